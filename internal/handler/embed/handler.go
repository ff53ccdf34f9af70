package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/troikatech/chatwidget/internal/gateway"
	"github.com/troikatech/chatwidget/internal/metrics"
	"github.com/troikatech/chatwidget/internal/model/widget"
	embedservice "github.com/troikatech/chatwidget/internal/service/embed"
	"github.com/troikatech/chatwidget/pkg/utils"
)

// formatAll asks for every artifact at once, returned as JSON.
const formatAll = "all"

const maxPatchBytes = 64 << 10

// ConfigSource loads the stored widget config of a project.
type ConfigSource interface {
	ProjectConfig(ctx context.Context, projectID string) (widget.Config, error)
}

// Handler 嵌入代码生成的HTTP处理器
type Handler struct {
	configs ConfigSource
	baseURL string
	metrics *metrics.Metrics
}

// New 创建嵌入代码处理器. baseURL 是部件脚本与 iframe 页面所在的站点根地址.
func New(configs ConfigSource, baseURL string, m *metrics.Metrics) *Handler {
	return &Handler{configs: configs, baseURL: baseURL, metrics: m}
}

// RegisterRoutes 注册嵌入相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/widget/defaults", h.handleDefaults)
	r.Get("/embed/{projectID}", h.handleProjectEmbed)
	r.Post("/embed/{projectID}", h.handlePatchEmbed)
}

func (h *Handler) handleDefaults(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, widget.Default())
}

// handleProjectEmbed 使用项目保存的配置生成嵌入代码
func (h *Handler) handleProjectEmbed(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if h.configs == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "project configs unavailable")
		return
	}

	cfg, err := h.configs.ProjectConfig(r.Context(), projectID)
	if err != nil {
		if gateway.IsNotFound(err) {
			utils.RespondError(w, http.StatusNotFound, "project not found")
			return
		}
		log.Error().Err(err).
			Str("component", "embed").
			Str("project_id", projectID).
			Msg("load project config failed")
		utils.RespondError(w, http.StatusBadGateway, "failed to load project config")
		return
	}

	h.respondArtifact(w, r, cfg, projectID)
}

// handlePatchEmbed 将请求体中的局部配置叠加到默认值后生成嵌入代码
func (h *Handler) handlePatchEmbed(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var patch widget.Patch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPatchBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.respondArtifact(w, r, widget.FromPatch(patch), projectID)
}

func (h *Handler) respondArtifact(w http.ResponseWriter, r *http.Request, cfg widget.Config, projectID string) {
	name := r.URL.Query().Get("format")

	if name == formatAll {
		artifacts, err := embedservice.CompileAll(cfg, projectID, h.baseURL)
		if err != nil {
			h.respondCompileError(w, err)
			return
		}
		out := make(map[string]string, len(artifacts))
		for format, artifact := range artifacts {
			out[string(format)] = artifact
			h.metrics.ArtifactCompiled(string(format))
		}
		utils.RespondJSON(w, http.StatusOK, out)
		return
	}

	format, err := embedservice.ParseFormat(name)
	if err != nil {
		h.respondCompileError(w, err)
		return
	}
	artifact, err := embedservice.Compile(format, cfg, projectID, h.baseURL)
	if err != nil {
		h.respondCompileError(w, err)
		return
	}
	h.metrics.ArtifactCompiled(string(format))
	utils.RespondText(w, http.StatusOK, artifact)
}

func (h *Handler) respondCompileError(w http.ResponseWriter, err error) {
	if errors.Is(err, embedservice.ErrInvalidBaseURL) {
		log.Error().Err(err).Str("component", "embed").Msg("embed base url misconfigured")
		utils.RespondError(w, http.StatusInternalServerError, "embed base url misconfigured")
		return
	}
	utils.RespondError(w, http.StatusBadRequest, err.Error())
}
