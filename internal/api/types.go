package api

import "time"

// HealthResponseStatus はヘルスチェックの状態
type HealthResponseStatus string

const (
	Healthy HealthResponseStatus = "healthy"
)

// StatusResponseStatus はサーバーの動作状態
type StatusResponseStatus string

const (
	Running StatusResponseStatus = "running"
)

// SourceStatusState はキャプチャループの状態
type SourceStatusState string

const (
	SourceStatusStateIdle       SourceStatusState = "idle"
	SourceStatusStateConnecting SourceStatusState = "connecting"
	SourceStatusStateRunning    SourceStatusState = "running"
	SourceStatusStateStopping   SourceStatusState = "stopping"
	SourceStatusStateStopped    SourceStatusState = "stopped"
)

// HealthResponse defines model for HealthResponse.
type HealthResponse struct {
	Status    HealthResponseStatus `json:"status"`
	Timestamp time.Time            `json:"timestamp"`
}

// ServerInfo defines model for ServerInfo.
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// SourceStatus defines model for SourceStatus.
type SourceStatus struct {
	Id            string            `json:"id"`
	Url           string            `json:"url"`
	State         SourceStatusState `json:"state"`
	Subscribers   int               `json:"subscribers"`
	Buffered      int               `json:"buffered"`
	FramesDecoded uint64            `json:"frames_decoded"`
	ReadFailures  uint64            `json:"read_failures"`
	Reconnects    uint64            `json:"reconnects"`
	LastFrameAt   *time.Time        `json:"last_frame_at,omitempty"`
	LastError     *string           `json:"last_error,omitempty"`
	Degraded      bool              `json:"degraded"`
}

// StatusResponse defines model for StatusResponse.
type StatusResponse struct {
	Status    StatusResponseStatus `json:"status"`
	Server    ServerInfo           `json:"server"`
	Cameras   int                  `json:"cameras"`
	Sources   []SourceStatus       `json:"sources"`
	Timestamp time.Time            `json:"timestamp"`
}

// StreamInfo defines model for StreamInfo.
type StreamInfo struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

// StreamsResponse defines model for StreamsResponse.
type StreamsResponse struct {
	Streams []StreamInfo `json:"streams"`
}

// Camera defines model for Camera.
type Camera struct {
	Id  string `json:"id"`
	Url string `json:"url"`
}

// CamerasResponse defines model for CamerasResponse.
type CamerasResponse struct {
	Cameras []Camera `json:"cameras"`
}

// CameraRequest defines model for CameraRequest.
type CameraRequest struct {
	Url string `json:"url" binding:"required"`
}

// ErrorResponse defines model for ErrorResponse.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CameraId defines model for CameraId.
type CameraId = string

// CreateCameraJSONRequestBody defines body for CreateCamera for application/json ContentType.
type CreateCameraJSONRequestBody = CameraRequest

// UpdateCameraJSONRequestBody defines body for UpdateCamera for application/json ContentType.
type UpdateCameraJSONRequestBody = CameraRequest
