package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"streamrelay/internal/api"
	"streamrelay/internal/camera"
	"streamrelay/internal/config"
	"streamrelay/internal/store"
)

// RelayHandler は api.ServerInterface を実装する
type RelayHandler struct {
	config      *config.Config
	store       store.Store
	registry    *camera.Registry
	multiplexer *camera.Multiplexer
	swagger     *openapi3.T
	logger      zerolog.Logger
}

var _ api.ServerInterface = (*RelayHandler)(nil)

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *RelayHandler) HealthCheck(c *gin.Context) {
	response := api.HealthResponse{
		Status:    api.Healthy,
		Timestamp: time.Now(),
	}

	c.JSON(http.StatusOK, response)
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *RelayHandler) GetStatus(c *gin.Context) {
	cameras, err := h.store.List(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}

	statuses := h.registry.List()
	sources := make([]api.SourceStatus, 0, len(statuses))
	for _, status := range statuses {
		sources = append(sources, convertSourceStatus(status))
	}

	response := api.StatusResponse{
		Status: api.Running,
		Server: api.ServerInfo{
			Host: h.config.Server.Host,
			Port: h.config.Server.Port,
		},
		Cameras:   len(cameras),
		Sources:   sources,
		Timestamp: time.Now(),
	}

	c.JSON(http.StatusOK, response)
}

// ListStreams はストリーム一覧エンドポイントの実装
// 名前にはカメラIDをそのまま使う
func (h *RelayHandler) ListStreams(c *gin.Context) {
	cameras, err := h.store.List(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}

	streams := make([]api.StreamInfo, 0, len(cameras))
	for _, cam := range cameras {
		streams = append(streams, api.StreamInfo{Id: cam.ID, Name: cam.ID})
	}

	c.JSON(http.StatusOK, api.StreamsResponse{Streams: streams})
}

// GetOpenAPISpec はOpenAPIドキュメントを返す
func (h *RelayHandler) GetOpenAPISpec(c *gin.Context) {
	c.JSON(http.StatusOK, h.swagger)
}

// ListCameras はカメラ一覧取得エンドポイントの実装
func (h *RelayHandler) ListCameras(c *gin.Context) {
	cameras, err := h.store.List(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}

	response := api.CamerasResponse{
		Cameras: make([]api.Camera, 0, len(cameras)),
	}
	for _, cam := range cameras {
		response.Cameras = append(response.Cameras, convertCamera(cam))
	}

	c.JSON(http.StatusOK, response)
}

// CreateCamera はカメラ登録エンドポイントの実装
func (h *RelayHandler) CreateCamera(c *gin.Context) {
	var request api.CreateCameraJSONRequestBody
	if err := c.ShouldBindJSON(&request); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "リクエストが不正です", err)
		return
	}
	if err := store.ValidateURL(request.Url); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_url", "接続URLが不正です", err)
		return
	}

	cam, err := h.store.Create(c.Request.Context(), request.Url)
	if err != nil {
		h.internalError(c, err)
		return
	}

	h.logger.Info().Str("camera_id", cam.ID).Msg("カメラを登録しました")
	c.JSON(http.StatusCreated, convertCamera(cam))
}

// GetCamera はカメラ取得エンドポイントの実装
func (h *RelayHandler) GetCamera(c *gin.Context, cameraID api.CameraId) {
	cam, ok := h.lookupCamera(c, cameraID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, convertCamera(cam))
}

// UpdateCamera は接続URL更新エンドポイントの実装
// 動作中のキャプチャは古いURLのまま続き、次に起動したときから新しいURLが使われる
func (h *RelayHandler) UpdateCamera(c *gin.Context, cameraID api.CameraId) {
	var request api.UpdateCameraJSONRequestBody
	if err := c.ShouldBindJSON(&request); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "リクエストが不正です", err)
		return
	}
	if err := store.ValidateURL(request.Url); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_url", "接続URLが不正です", err)
		return
	}

	cam, err := h.store.Update(c.Request.Context(), cameraID, request.Url)
	if errors.Is(err, store.ErrNotFound) {
		writeCameraNotFound(c)
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}

	h.registry.UpdateURLIfPresent(cameraID, cam.URL)

	c.JSON(http.StatusOK, convertCamera(cam))
}

// DeleteCamera はカメラ削除エンドポイントの実装
// 視聴中のクライアントは切断される
func (h *RelayHandler) DeleteCamera(c *gin.Context, cameraID api.CameraId) {
	err := h.store.Delete(c.Request.Context(), cameraID)
	if errors.Is(err, store.ErrNotFound) {
		writeCameraNotFound(c)
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}

	h.registry.Remove(cameraID)
	h.logger.Info().Str("camera_id", cameraID).Msg("カメラを削除しました")
	c.Status(http.StatusNoContent)
}

// GetCameraStream はMJPEGストリーミングエンドポイントの実装
func (h *RelayHandler) GetCameraStream(c *gin.Context, cameraID api.CameraId) {
	h.streamMJPEG(c, cameraID)
}

// GetVideoFeed は /video_feed/{cameraId} の実装。GetCameraStream と同じ
func (h *RelayHandler) GetVideoFeed(c *gin.Context, cameraID api.CameraId) {
	h.streamMJPEG(c, cameraID)
}

// GetCameraSnapshot は最新フレームを1枚返すエンドポイントの実装
func (h *RelayHandler) GetCameraSnapshot(c *gin.Context, cameraID api.CameraId) {
	src, ok := h.sourceFor(c, cameraID)
	if !ok {
		return
	}

	data, err := h.multiplexer.Snapshot(c.Request.Context(), src)
	switch {
	case err == nil:
		c.Header("Cache-Control", "no-cache")
		c.Data(http.StatusOK, "image/jpeg", data)
	case errors.Is(err, camera.ErrNoFrame):
		writeError(c, http.StatusServiceUnavailable, "no_frame", "フレームがまだ取得されていません", nil)
	case errors.Is(err, camera.ErrSourceClosed):
		writeCameraNotFound(c)
	case errors.Is(err, context.Canceled):
		// クライアントが切断された
	default:
		h.internalError(c, err)
	}
}

// streamMJPEG はMJPEGストリームを配信する
func (h *RelayHandler) streamMJPEG(c *gin.Context, cameraID string) {
	src, ok := h.sourceFor(c, cameraID)
	if !ok {
		return
	}

	// レスポンスヘッダーを設定
	c.Header("Content-Type", h.multiplexer.ContentType())
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	err := h.multiplexer.Stream(c.Request.Context(), src, c.Writer, c.Writer.Flush)
	if err == nil {
		return
	}

	if !c.Writer.Written() && errors.Is(err, camera.ErrSourceClosed) {
		// 配信開始前に削除された
		writeCameraNotFound(c)
		return
	}
	h.logger.Debug().Err(err).Str("camera_id", cameraID).Msg("ストリーム配信が中断されました")
}

// sourceFor は登録済みカメラのソースを取得する
// 未登録の場合は404を返し、ソースは作成しない
func (h *RelayHandler) sourceFor(c *gin.Context, cameraID string) (*camera.Source, bool) {
	src, err := h.registry.Acquire(c.Request.Context(), cameraID, h.cameraURL)
	if errors.Is(err, store.ErrNotFound) {
		writeCameraNotFound(c)
		return nil, false
	}
	if err != nil {
		h.internalError(c, err)
		return nil, false
	}
	return src, true
}

// cameraURL は登録済みカメラの接続URLを返す
func (h *RelayHandler) cameraURL(ctx context.Context, cameraID string) (string, error) {
	cam, err := h.store.Get(ctx, cameraID)
	if err != nil {
		return "", err
	}
	return cam.URL, nil
}

// lookupCamera は登録済みカメラを取得する。見つからなければ404を書き込む
func (h *RelayHandler) lookupCamera(c *gin.Context, cameraID string) (store.Camera, bool) {
	cam, err := h.store.Get(c.Request.Context(), cameraID)
	if errors.Is(err, store.ErrNotFound) {
		writeCameraNotFound(c)
		return store.Camera{}, false
	}
	if err != nil {
		h.internalError(c, err)
		return store.Camera{}, false
	}
	return cam, true
}

func (h *RelayHandler) internalError(c *gin.Context, err error) {
	h.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("リクエストの処理に失敗しました")
	writeError(c, http.StatusInternalServerError, "internal_error", "内部エラーが発生しました", nil)
}

// ヘルパー関数

// writeError はエラーレスポンスを書き込む
func writeError(c *gin.Context, status int, code, message string, details error) {
	response := api.ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	}
	if details != nil {
		response.Details = stringPtr(details.Error())
	}
	c.AbortWithStatusJSON(status, response)
}

func writeCameraNotFound(c *gin.Context) {
	writeError(c, http.StatusNotFound, "camera_not_found", "指定されたカメラが見つかりません", nil)
}

// writeAPIError はパラメータのバインドやリクエスト検証の失敗を書き込む
func writeAPIError(c *gin.Context, err error, status int) {
	writeError(c, status, "invalid_request", "リクエストが不正です", err)
}

// convertCamera はカメラ登録情報をAPIの型に変換する
func convertCamera(cam store.Camera) api.Camera {
	return api.Camera{Id: cam.ID, Url: cam.URL}
}

// convertSourceStatus はソースの状態をAPIの型に変換する
func convertSourceStatus(status camera.SourceStatus) api.SourceStatus {
	converted := api.SourceStatus{
		Id:            status.ID,
		Url:           status.URL,
		State:         api.SourceStatusState(status.State),
		Subscribers:   status.Subscribers,
		Buffered:      status.Buffered,
		FramesDecoded: status.Stats.FramesDecoded,
		ReadFailures:  status.Stats.ReadFailures,
		Reconnects:    status.Stats.Reconnects,
		Degraded:      status.Stats.Degraded,
	}
	if !status.Stats.LastFrameAt.IsZero() {
		lastFrameAt := status.Stats.LastFrameAt
		converted.LastFrameAt = &lastFrameAt
	}
	if status.Stats.LastError != "" {
		converted.LastError = stringPtr(status.Stats.LastError)
	}
	return converted
}

// stringPtr は文字列のポインタを返すヘルパー関数
func stringPtr(s string) *string {
	return &s
}
