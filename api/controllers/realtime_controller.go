/*
 * @module api/controllers/realtime_controller
 * @description 实时评分控制器，提供实时/长期混合评分查询
 * @architecture MVC架构 - 控制器层
 * @documentReference dev_docs/realtime_req.md
 * @stateFlow HTTP请求 -> 取最近综合指数 -> 融合实时信号 -> 响应
 * @rules RT-SI不可得不是错误，响应中以rt_si_available=false表达
 * @dependencies net/http, github.com/go-chi/render
 * @refs service/realtime/blender.go, service/indexstore/store.go
 */

package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"safety-index-service/service/indexstore"
	"safety-index-service/service/realtime"

	"github.com/go-chi/render"
)

// RealtimeController 实时评分控制器
type RealtimeController struct {
	blender *realtime.Blender
	store   *indexstore.Store
}

// NewRealtimeController 创建实时评分控制器实例
func NewRealtimeController(blender *realtime.Blender, store *indexstore.Store) *RealtimeController {
	return &RealtimeController{blender: blender, store: store}
}

// ScoreRequest 混合评分请求
// Alpha为nil时使用默认实时权重
type ScoreRequest struct {
	Entity    string     `json:"entity" example:"intersection-042"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Alpha     *float64   `json:"alpha,omitempty"`
}

// Score 查询混合评分
// @Summary 查询混合评分
// @Description 将该路口最近的综合指数与实时稳定速率按α融合
// @Tags 实时
// @Accept json
// @Produce json
// @Param request body ScoreRequest true "评分请求"
// @Success 200 {object} APIResponse
// @Router /realtime/score [post]
func (c *RealtimeController) Score(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, APIResponse{Status: -1, Msg: "请求体解析失败: " + err.Error()})
		return
	}
	if req.Entity == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, APIResponse{Status: -1, Msg: "entity不能为空"})
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}
	alpha := realtime.DefaultAlpha
	if req.Alpha != nil {
		alpha = *req.Alpha
	}

	record, err := c.store.LatestRecord(r.Context(), req.Entity)
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, APIResponse{Status: -1, Msg: err.Error()})
		return
	}
	if record == nil {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, APIResponse{Status: -1, Msg: "该路口尚无指数记录"})
		return
	}

	score, err := c.blender.Score(r.Context(), req.Entity, ts, alpha, record.CombinedIndex)
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, APIResponse{Status: -1, Msg: err.Error()})
		return
	}

	render.JSON(w, r, APIResponse{Status: 0, Msg: "获取成功", Data: score})
}
