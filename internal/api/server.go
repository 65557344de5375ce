package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oapi-codegen/runtime"
)

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// ヘルスチェック
	// (GET /health)
	HealthCheck(c *gin.Context)
	// システム状態の取得
	// (GET /api/status)
	GetStatus(c *gin.Context)
	// 配信可能なストリームの一覧
	// (GET /api/streams)
	ListStreams(c *gin.Context)
	// このAPIのOpenAPIドキュメント
	// (GET /api/openapi.json)
	GetOpenAPISpec(c *gin.Context)
	// カメラ一覧の取得
	// (GET /api/cameras)
	ListCameras(c *gin.Context)
	// カメラの登録
	// (POST /api/cameras)
	CreateCamera(c *gin.Context)
	// カメラの取得
	// (GET /api/cameras/{cameraId})
	GetCamera(c *gin.Context, cameraId CameraId)
	// 接続URLの更新
	// (PUT /api/cameras/{cameraId})
	UpdateCamera(c *gin.Context, cameraId CameraId)
	// カメラの削除
	// (DELETE /api/cameras/{cameraId})
	DeleteCamera(c *gin.Context, cameraId CameraId)
	// MJPEGストリーム
	// (GET /api/cameras/{cameraId}/stream)
	GetCameraStream(c *gin.Context, cameraId CameraId)
	// 最新フレームのJPEG
	// (GET /api/cameras/{cameraId}/snapshot)
	GetCameraSnapshot(c *gin.Context, cameraId CameraId)
	// MJPEGストリーム（互換用のパス）
	// (GET /video_feed/{cameraId})
	GetVideoFeed(c *gin.Context, cameraId CameraId)
}

// ServerInterfaceWrapper converts contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandler       func(*gin.Context, error, int)
}

type MiddlewareFunc func(c *gin.Context)

// runMiddlewares は中断されたら false を返す
func (siw *ServerInterfaceWrapper) runMiddlewares(c *gin.Context) bool {
	for _, middleware := range siw.HandlerMiddlewares {
		middleware(c)
		if c.IsAborted() {
			return false
		}
	}
	return true
}

// bindCameraId はパスパラメータ cameraId をバインドする
func (siw *ServerInterfaceWrapper) bindCameraId(c *gin.Context) (CameraId, bool) {
	var cameraId CameraId

	err := runtime.BindStyledParameterWithOptions("simple", "cameraId", c.Param("cameraId"), &cameraId,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandler(c, fmt.Errorf("Invalid format for parameter cameraId: %w", err), http.StatusBadRequest)
		return "", false
	}
	return cameraId, true
}

// HealthCheck operation middleware
func (siw *ServerInterfaceWrapper) HealthCheck(c *gin.Context) {
	if !siw.runMiddlewares(c) {
		return
	}
	siw.Handler.HealthCheck(c)
}

// GetStatus operation middleware
func (siw *ServerInterfaceWrapper) GetStatus(c *gin.Context) {
	if !siw.runMiddlewares(c) {
		return
	}
	siw.Handler.GetStatus(c)
}

// ListStreams operation middleware
func (siw *ServerInterfaceWrapper) ListStreams(c *gin.Context) {
	if !siw.runMiddlewares(c) {
		return
	}
	siw.Handler.ListStreams(c)
}

// GetOpenAPISpec operation middleware
func (siw *ServerInterfaceWrapper) GetOpenAPISpec(c *gin.Context) {
	if !siw.runMiddlewares(c) {
		return
	}
	siw.Handler.GetOpenAPISpec(c)
}

// ListCameras operation middleware
func (siw *ServerInterfaceWrapper) ListCameras(c *gin.Context) {
	if !siw.runMiddlewares(c) {
		return
	}
	siw.Handler.ListCameras(c)
}

// CreateCamera operation middleware
func (siw *ServerInterfaceWrapper) CreateCamera(c *gin.Context) {
	if !siw.runMiddlewares(c) {
		return
	}
	siw.Handler.CreateCamera(c)
}

// GetCamera operation middleware
func (siw *ServerInterfaceWrapper) GetCamera(c *gin.Context) {
	cameraId, ok := siw.bindCameraId(c)
	if !ok || !siw.runMiddlewares(c) {
		return
	}
	siw.Handler.GetCamera(c, cameraId)
}

// UpdateCamera operation middleware
func (siw *ServerInterfaceWrapper) UpdateCamera(c *gin.Context) {
	cameraId, ok := siw.bindCameraId(c)
	if !ok || !siw.runMiddlewares(c) {
		return
	}
	siw.Handler.UpdateCamera(c, cameraId)
}

// DeleteCamera operation middleware
func (siw *ServerInterfaceWrapper) DeleteCamera(c *gin.Context) {
	cameraId, ok := siw.bindCameraId(c)
	if !ok || !siw.runMiddlewares(c) {
		return
	}
	siw.Handler.DeleteCamera(c, cameraId)
}

// GetCameraStream operation middleware
func (siw *ServerInterfaceWrapper) GetCameraStream(c *gin.Context) {
	cameraId, ok := siw.bindCameraId(c)
	if !ok || !siw.runMiddlewares(c) {
		return
	}
	siw.Handler.GetCameraStream(c, cameraId)
}

// GetCameraSnapshot operation middleware
func (siw *ServerInterfaceWrapper) GetCameraSnapshot(c *gin.Context) {
	cameraId, ok := siw.bindCameraId(c)
	if !ok || !siw.runMiddlewares(c) {
		return
	}
	siw.Handler.GetCameraSnapshot(c, cameraId)
}

// GetVideoFeed operation middleware
func (siw *ServerInterfaceWrapper) GetVideoFeed(c *gin.Context) {
	cameraId, ok := siw.bindCameraId(c)
	if !ok || !siw.runMiddlewares(c) {
		return
	}
	siw.Handler.GetVideoFeed(c, cameraId)
}

// GinServerOptions provides options for the Gin server.
type GinServerOptions struct {
	BaseURL      string
	Middlewares  []MiddlewareFunc
	ErrorHandler func(*gin.Context, error, int)
}

// RegisterHandlers creates http.Handler with routing matching OpenAPI spec.
func RegisterHandlers(router gin.IRouter, si ServerInterface) {
	RegisterHandlersWithOptions(router, si, GinServerOptions{})
}

// RegisterHandlersWithOptions creates http.Handler with additional options
func RegisterHandlersWithOptions(router gin.IRouter, si ServerInterface, options GinServerOptions) {
	errorHandler := options.ErrorHandler
	if errorHandler == nil {
		errorHandler = func(c *gin.Context, err error, statusCode int) {
			c.JSON(statusCode, gin.H{"msg": err.Error()})
		}
	}

	wrapper := ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: options.Middlewares,
		ErrorHandler:       errorHandler,
	}

	router.GET(options.BaseURL+"/health", wrapper.HealthCheck)
	router.GET(options.BaseURL+"/api/status", wrapper.GetStatus)
	router.GET(options.BaseURL+"/api/streams", wrapper.ListStreams)
	router.GET(options.BaseURL+"/api/openapi.json", wrapper.GetOpenAPISpec)
	router.GET(options.BaseURL+"/api/cameras", wrapper.ListCameras)
	router.POST(options.BaseURL+"/api/cameras", wrapper.CreateCamera)
	router.GET(options.BaseURL+"/api/cameras/:cameraId", wrapper.GetCamera)
	router.PUT(options.BaseURL+"/api/cameras/:cameraId", wrapper.UpdateCamera)
	router.DELETE(options.BaseURL+"/api/cameras/:cameraId", wrapper.DeleteCamera)
	router.GET(options.BaseURL+"/api/cameras/:cameraId/stream", wrapper.GetCameraStream)
	router.GET(options.BaseURL+"/api/cameras/:cameraId/snapshot", wrapper.GetCameraSnapshot)
	router.GET(options.BaseURL+"/video_feed/:cameraId", wrapper.GetVideoFeed)
}
