package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/rs/zerolog/log"

	"drowsewatch/internal/camera"
	"drowsewatch/internal/generated"
	"drowsewatch/internal/history"
	"drowsewatch/internal/scoring"
	"drowsewatch/internal/session"
)

const (
	defaultAlertLimit = 50
	streamCheckPeriod = time.Second
)

// PreviewSource はMJPEGプレビューのフレーム供給元
type PreviewSource interface {
	NaturalSize() (int, int)
	Latest() []byte
	Subscribe() (string, <-chan []byte)
	Unsubscribe(id string)
}

// MonitorHandler は生成されたServerInterfaceを実装する
type MonitorHandler struct {
	controller *session.Controller
	preview    PreviewSource
	done       <-chan struct{}
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *MonitorHandler) HealthCheck(c *gin.Context) {
	response := generated.HealthResponse{
		Status:    generated.Healthy,
		Timestamp: time.Now(),
	}

	c.JSON(http.StatusOK, response)
}

// GetSession はセッション状態取得エンドポイントの実装
func (h *MonitorHandler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, toSessionState(h.controller.State()))
}

// StartSession は監視開始エンドポイントの実装
func (h *MonitorHandler) StartSession(c *gin.Context) {
	if err := h.controller.Start(c.Request.Context()); err != nil {
		respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionState(h.controller.State()))
}

// StopSession は監視停止エンドポイントの実装
func (h *MonitorHandler) StopSession(c *gin.Context) {
	h.controller.Stop()
	c.JSON(http.StatusOK, toSessionState(h.controller.State()))
}

// ToggleSession は監視の開始・停止切り替えエンドポイントの実装
func (h *MonitorHandler) ToggleSession(c *gin.Context) {
	if err := h.controller.Toggle(c.Request.Context()); err != nil {
		respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionState(h.controller.State()))
}

// UpdateThresholds はしきい値更新エンドポイントの実装
func (h *MonitorHandler) UpdateThresholds(c *gin.Context) {
	var body generated.UpdateThresholdsJSONRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "リクエストボディが不正です", err.Error())
		return
	}

	thresholds := scoring.Thresholds{
		EAR:  body.EarThreshold,
		MAR:  body.MarThreshold,
		Tilt: body.TiltThreshold,
	}
	if err := h.controller.SetThresholds(thresholds); err != nil {
		if errors.Is(err, scoring.ErrInvalidThresholds) {
			errorJSON(c, http.StatusBadRequest, "invalid_thresholds", err.Error(), "")
			return
		}
		errorJSON(c, http.StatusInternalServerError, "internal_error", err.Error(), "")
		return
	}

	c.JSON(http.StatusOK, toSessionState(h.controller.State()))
}

// UpdateSound は警告音設定エンドポイントの実装
func (h *MonitorHandler) UpdateSound(c *gin.Context) {
	var body generated.UpdateSoundJSONRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid_request", "リクエストボディが不正です", err.Error())
		return
	}

	h.controller.SetSoundEnabled(body.Enabled)
	c.JSON(http.StatusOK, toSessionState(h.controller.State()))
}

// CheckBackend は判定サービスの到達性確認エンドポイントの実装
func (h *MonitorHandler) CheckBackend(c *gin.Context) {
	status := h.controller.CheckBackend(c.Request.Context())
	c.JSON(http.StatusOK, generated.BackendStatusResponse{
		Status: generated.BackendStatusResponseStatus(status),
	})
}

// GetSessionAlerts は警告履歴取得エンドポイントの実装
func (h *MonitorHandler) GetSessionAlerts(c *gin.Context, sessionId openapi_types.UUID, params generated.GetSessionAlertsParams) {
	limit := defaultAlertLimit
	if params.Limit != nil {
		limit = *params.Limit
	}

	events, err := h.controller.Alerts(c.Request.Context(), sessionId.String(), limit)
	if err != nil {
		log.Error().Err(err).Str("session", sessionId.String()).Msg("警告履歴の取得に失敗しました")
		errorJSON(c, http.StatusInternalServerError, "history_unavailable", "警告履歴を取得できません", err.Error())
		return
	}

	alerts := make([]generated.AlertEvent, 0, len(events))
	for _, e := range events {
		alerts = append(alerts, toAlertEvent(e))
	}
	c.JSON(http.StatusOK, generated.AlertsResponse{Alerts: alerts})
}

// GetStream はMJPEGストリーミングエンドポイントの実装
func (h *MonitorHandler) GetStream(c *gin.Context) {
	if w, ht := h.preview.NaturalSize(); w == 0 || ht == 0 {
		errorJSON(c, http.StatusServiceUnavailable, "camera_not_active", "カメラストリームが開かれていません", "")
		return
	}

	h.streamMJPEG(c)
}

// streamMJPEG はMJPEGストリームを配信する
// クライアント切断、サーバー停止、カメラ解放のいずれかで終了する
func (h *MonitorHandler) streamMJPEG(c *gin.Context) {
	id, frames := h.preview.Subscribe()
	defer h.preview.Unsubscribe(id)

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	writer := c.Writer
	writer.WriteHeader(http.StatusOK)

	if frame := h.preview.Latest(); frame != nil {
		if err := writeMJPEGPart(writer, frame); err != nil {
			return
		}
	}
	writer.Flush()

	check := time.NewTicker(streamCheckPeriod)
	defer check.Stop()

	clientGone := c.Request.Context().Done()

	for {
		select {
		case <-clientGone:
			return

		case <-h.done:
			return

		case <-check.C:
			if w, ht := h.preview.NaturalSize(); w == 0 || ht == 0 {
				log.Debug().Str("subscriber", id).Msg("カメラが解放されたためプレビューを終了します")
				return
			}

		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := writeMJPEGPart(writer, frame); err != nil {
				return
			}
			writer.Flush()
		}
	}
}

func writeMJPEGPart(w gin.ResponseWriter, frame []byte) error {
	if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// respondSessionError は監視開始の失敗をステータスコードに変換する
func respondSessionError(c *gin.Context, err error) {
	var camErr *camera.Error

	switch {
	case errors.Is(err, session.ErrBackendOffline):
		errorJSON(c, http.StatusConflict, "backend_offline", err.Error(), "")
	case errors.As(err, &camErr):
		errorJSON(c, http.StatusUnprocessableEntity, "camera_error", err.Error(), string(camErr.Kind))
	case errors.Is(err, camera.ErrAlreadyAcquired), errors.Is(err, camera.ErrNoDevice):
		errorJSON(c, http.StatusUnprocessableEntity, "camera_error", err.Error(), "")
	case errors.Is(err, session.ErrClosed):
		errorJSON(c, http.StatusServiceUnavailable, "shutting_down", err.Error(), "")
	default:
		log.Error().Err(err).Msg("監視の開始に失敗しました")
		errorJSON(c, http.StatusInternalServerError, "internal_error", err.Error(), "")
	}
}

func errorJSON(c *gin.Context, status int, code, message, details string) {
	response := generated.ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	}
	if details != "" {
		response.Details = stringPtr(details)
	}
	c.AbortWithStatusJSON(status, response)
}

// ヘルパー関数

// toSessionState はセッション状態をAPIスキーマに変換する
func toSessionState(s session.State) generated.SessionState {
	state := generated.SessionState{
		BackendStatus: generated.SessionStateBackendStatus(s.BackendStatus),
		CameraError:   s.CameraError,
		Counters: generated.SessionCounters{
			AlertsRaised:       int64(s.Counters.AlertsRaised),
			ResponsesApplied:   int64(s.Counters.ResponsesApplied),
			ResponsesDiscarded: int64(s.Counters.ResponsesDiscarded),
			ScoreFailures:      int64(s.Counters.ScoreFailures),
			TicksIssued:        int64(s.Counters.TicksIssued),
			TicksSkipped:       int64(s.Counters.TicksSkipped),
		},
		DisplayStatus:  s.DisplayStatus(),
		IsMonitoring:   s.IsMonitoring,
		LastAppliedSeq: int64(s.LastAppliedSeq),
		LastError:      s.LastError,
		Phase:          generated.SessionStatePhase(s.Phase),
		SoundEnabled:   s.SoundEnabled,
		StartedAt:      s.StartedAt,
		Thresholds: generated.Thresholds{
			EarThreshold:  s.Thresholds.EAR,
			MarThreshold:  s.Thresholds.MAR,
			TiltThreshold: s.Thresholds.Tilt,
		},
		UpdatedAt: s.UpdatedAt,
	}

	if id, err := uuid.Parse(s.SessionID); err == nil {
		state.SessionId = &id
	}
	if s.Alert != nil {
		state.Alert = &generated.AlertInfo{
			Alert:        s.Alert.Alert,
			DetectorType: optionalString(s.Alert.DetectorType),
			Metrics:      toFaceMetrics(s.Alert.Metrics),
			Status:       optionalString(s.Alert.Status),
			Type:         optionalString(s.Alert.Type),
		}
	}
	return state
}

func toAlertEvent(e history.Event) generated.AlertEvent {
	event := generated.AlertEvent{
		DetectorType: optionalString(e.DetectorType),
		Metrics:      toFaceMetrics(e.Metrics),
		OccurredAt:   e.OccurredAt,
		Seq:          int64(e.Seq),
		Type:         optionalString(e.Type),
	}
	if id, err := uuid.Parse(e.SessionID); err == nil {
		event.SessionId = id
	}
	return event
}

func toFaceMetrics(m *scoring.Metrics) *generated.FaceMetrics {
	if m == nil {
		return nil
	}
	return &generated.FaceMetrics{
		Ear:        m.EAR,
		EyeFrames:  intPtr(m.EyeFrames),
		Mar:        m.MAR,
		Tilt:       m.Tilt,
		TiltFrames: intPtr(m.TiltFrames),
		YawnFrames: intPtr(m.YawnFrames),
	}
}

// stringPtr は文字列のポインタを返すヘルパー関数
func stringPtr(s string) *string {
	return &s
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func intPtr(i int) *int {
	return &i
}
