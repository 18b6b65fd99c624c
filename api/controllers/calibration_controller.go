/*
 * @module api/controllers/calibration_controller
 * @description 标定控制器，提供收缩模型标定与归一化常量刷新的手动触发
 * @architecture MVC架构 - 控制器层
 * @documentReference dev_docs/scheduler_req.md
 * @stateFlow HTTP请求 -> 调度器手动执行 -> 响应
 * @rules 手动触发与定时触发共用同一把分布式锁
 * @dependencies net/http, github.com/go-chi/render
 * @refs service/scheduler/calibration_scheduler.go
 */

package controllers

import (
	"net/http"

	"safety-index-service/service/indexstore"
	"safety-index-service/service/scheduler"

	"github.com/go-chi/render"
)

// CalibrationController 标定控制器
type CalibrationController struct {
	scheduler *scheduler.CalibrationScheduler
	store     *indexstore.Store
}

// NewCalibrationController 创建标定控制器实例
func NewCalibrationController(s *scheduler.CalibrationScheduler, store *indexstore.Store) *CalibrationController {
	return &CalibrationController{scheduler: s, store: store}
}

// RunCalibration 手动触发收缩模型标定
// @Summary 触发收缩模型标定
// @Tags 标定
// @Produce json
// @Success 200 {object} APIResponse
// @Router /calibration/run [post]
func (c *CalibrationController) RunCalibration(w http.ResponseWriter, r *http.Request) {
	if err := c.scheduler.RunCalibration(r.Context()); err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, APIResponse{Status: -1, Msg: err.Error()})
		return
	}

	model, err := c.store.LatestEBModel(r.Context())
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, APIResponse{Status: -1, Msg: err.Error()})
		return
	}

	render.JSON(w, r, APIResponse{Status: 0, Msg: "标定完成", Data: model})
}

// RefreshConstants 手动触发归一化常量刷新
// @Summary 触发归一化常量刷新
// @Tags 标定
// @Produce json
// @Success 200 {object} APIResponse
// @Router /calibration/constants/refresh [post]
func (c *CalibrationController) RefreshConstants(w http.ResponseWriter, r *http.Request) {
	if err := c.scheduler.RefreshConstants(r.Context()); err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, APIResponse{Status: -1, Msg: err.Error()})
		return
	}

	render.JSON(w, r, APIResponse{Status: 0, Msg: "常量刷新完成"})
}

// GetModel 查询当前收缩模型
// @Summary 查询收缩模型
// @Tags 标定
// @Produce json
// @Success 200 {object} APIResponse
// @Router /calibration/model [get]
func (c *CalibrationController) GetModel(w http.ResponseWriter, r *http.Request) {
	model, err := c.store.LatestEBModel(r.Context())
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, APIResponse{Status: -1, Msg: err.Error()})
		return
	}
	if model == nil {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, APIResponse{Status: -1, Msg: "尚无标定的收缩模型"})
		return
	}

	render.JSON(w, r, APIResponse{Status: 0, Msg: "获取成功", Data: model})
}
