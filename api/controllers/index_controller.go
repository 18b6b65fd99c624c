/*
 * @module api/controllers/index_controller
 * @description 指数控制器，提供窗口指数计算触发与指数记录查询
 * @architecture MVC架构 - 控制器层
 * @documentReference dev_docs/index_req.md
 * @stateFlow HTTP请求 -> 流水线计算/存储查询 -> 统一响应
 * @rules 时间参数使用RFC3339；计算请求默认fail_soft模式
 * @dependencies net/http, github.com/go-chi/render
 * @refs service/index/pipeline.go, service/indexstore/store.go
 */

package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"safety-index-service/service/collector"
	"safety-index-service/service/index"
	"safety-index-service/service/indexstore"

	"github.com/go-chi/render"
)

// IndexController 指数控制器
type IndexController struct {
	pipeline *index.Pipeline
	store    *indexstore.Store
}

// NewIndexController 创建指数控制器实例
func NewIndexController(pipeline *index.Pipeline, store *indexstore.Store) *IndexController {
	return &IndexController{pipeline: pipeline, store: store}
}

// ComputeRequest 窗口计算请求
type ComputeRequest struct {
	Start time.Time `json:"start" example:"2025-06-01T08:00:00Z"`
	End   time.Time `json:"end" example:"2025-06-01T08:15:00Z"`
	Mode  string    `json:"mode" example:"fail_soft"` // fail_fast, fail_soft
}

// Compute 触发窗口指数计算
// @Summary 触发窗口指数计算
// @Description 采集指定窗口并计算指数记录，mode缺省为fail_soft
// @Tags 指数
// @Accept json
// @Produce json
// @Param request body ComputeRequest true "计算窗口"
// @Success 200 {object} APIResponse
// @Router /index/compute [post]
func (c *IndexController) Compute(w http.ResponseWriter, r *http.Request) {
	var req ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, APIResponse{Status: -1, Msg: "请求体解析失败: " + err.Error()})
		return
	}
	if req.Mode == "" {
		req.Mode = collector.ModeFailSoft
	}

	records, err := c.pipeline.ComputeWindow(r.Context(), req.Start, req.End, req.Mode)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, index.ErrConstantsMissing) {
			status = http.StatusConflict
		}
		render.Status(r, status)
		render.JSON(w, r, APIResponse{Status: -1, Msg: err.Error()})
		return
	}

	render.JSON(w, r, APIResponse{Status: 0, Msg: "计算完成", Data: records})
}

// ListRecords 查询指数记录
// @Summary 查询指数记录
// @Tags 指数
// @Produce json
// @Param entity query string false "路口ID，缺省查全部"
// @Param start query string true "起始时间 RFC3339"
// @Param end query string true "结束时间 RFC3339"
// @Success 200 {object} APIResponse
// @Router /index/records [get]
func (c *IndexController) ListRecords(w http.ResponseWriter, r *http.Request) {
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, APIResponse{Status: -1, Msg: "start参数格式错误"})
		return
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, APIResponse{Status: -1, Msg: "end参数格式错误"})
		return
	}

	records, err := c.store.ListRecords(r.Context(), r.URL.Query().Get("entity"), start, end)
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, APIResponse{Status: -1, Msg: err.Error()})
		return
	}

	render.JSON(w, r, APIResponse{Status: 0, Msg: "获取成功", Data: records})
}

// GetConstants 查询当前归一化常量
// @Summary 查询归一化常量
// @Tags 指数
// @Produce json
// @Success 200 {object} APIResponse
// @Router /index/constants [get]
func (c *IndexController) GetConstants(w http.ResponseWriter, r *http.Request) {
	constants, err := c.store.LatestConstants(r.Context())
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, APIResponse{Status: -1, Msg: err.Error()})
		return
	}
	if constants == nil {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, APIResponse{Status: -1, Msg: "归一化常量尚未标定"})
		return
	}

	render.JSON(w, r, APIResponse{Status: 0, Msg: "获取成功", Data: constants})
}
