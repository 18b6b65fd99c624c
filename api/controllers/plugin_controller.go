/*
 * @module api/controllers/plugin_controller
 * @description 插件管理控制器，提供插件配置CRUD、元数据查询与批量健康检查
 * @architecture MVC架构 - 控制器层
 * @documentReference dev_docs/plugin_req.md
 * @stateFlow HTTP请求 -> 配置持久化 -> 注册表同步
 * @rules 配置写入与注册表操作保持一致：注册失败的配置不落库
 * @dependencies net/http, github.com/go-chi/chi/v5, github.com/go-chi/render
 * @refs service/plugin/registry.go, service/indexstore/store.go
 */

package controllers

import (
	"encoding/json"
	"net/http"

	"safety-index-service/service/indexstore"
	"safety-index-service/service/meta"
	"safety-index-service/service/models"
	"safety-index-service/service/plugin"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// PluginController 插件管理控制器
type PluginController struct {
	registry *plugin.Registry
	store    *indexstore.Store
}

// NewPluginController 创建插件管理控制器实例
func NewPluginController(registry *plugin.Registry, store *indexstore.Store) *PluginController {
	return &PluginController{registry: registry, store: store}
}

// GetPluginTypes 查询支持的插件类型定义
// @Summary 查询插件类型
// @Description 返回全部内置插件类型及其配置字段定义
// @Tags 插件
// @Produce json
// @Success 200 {object} APIResponse
// @Router /plugins/types [get]
func (c *PluginController) GetPluginTypes(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, APIResponse{
		Status: 0,
		Msg:    "获取成功",
		Data:   meta.PluginTypes,
	})
}

// ListPlugins 查询已注册插件
// @Summary 查询已注册插件
// @Tags 插件
// @Produce json
// @Success 200 {object} APIResponse
// @Router /plugins [get]
func (c *PluginController) ListPlugins(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, APIResponse{
		Status: 0,
		Msg:    "获取成功",
		Data:   c.registry.Metadata(),
	})
}

// HealthCheckAll 批量健康检查
// @Summary 批量健康检查
// @Description 并发探测所有已注册插件，单个插件超时不影响整批结果
// @Tags 插件
// @Produce json
// @Success 200 {object} APIResponse
// @Router /plugins/health [get]
func (c *PluginController) HealthCheckAll(w http.ResponseWriter, r *http.Request) {
	results := c.registry.HealthCheckAll(r.Context())
	render.JSON(w, r, APIResponse{
		Status: 0,
		Msg:    "检查完成",
		Data:   results,
	})
}

// CreatePlugin 新增插件
// @Summary 新增插件
// @Description 校验并注册插件，注册成功后持久化配置
// @Tags 插件
// @Accept json
// @Produce json
// @Param config body models.PluginConfig true "插件配置"
// @Success 200 {object} APIResponse
// @Router /plugins [post]
func (c *PluginController) CreatePlugin(w http.ResponseWriter, r *http.Request) {
	var cfg models.PluginConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, APIResponse{Status: -1, Msg: "请求体解析失败: " + err.Error()})
		return
	}

	if err := c.registry.Register(r.Context(), &cfg); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, APIResponse{Status: -1, Msg: err.Error()})
		return
	}

	if err := c.store.SavePluginConfig(r.Context(), &cfg); err != nil {
		// 落库失败时回滚注册，避免重启后配置丢失但实例仍在
		_ = c.registry.Remove(r.Context(), cfg.Name)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, APIResponse{Status: -1, Msg: err.Error()})
		return
	}

	render.JSON(w, r, APIResponse{Status: 0, Msg: "插件创建成功", Data: cfg.Descriptor()})
}

// DeletePlugin 删除插件
// @Summary 删除插件
// @Tags 插件
// @Produce json
// @Param name path string true "插件名"
// @Success 200 {object} APIResponse
// @Router /plugins/{name} [delete]
func (c *PluginController) DeletePlugin(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := c.store.DeletePluginConfig(r.Context(), name); err != nil {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, APIResponse{Status: -1, Msg: err.Error()})
		return
	}
	if err := c.registry.Remove(r.Context(), name); err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, APIResponse{Status: -1, Msg: err.Error()})
		return
	}

	render.JSON(w, r, APIResponse{Status: 0, Msg: "插件删除成功"})
}

// GetPlugin 查询单个插件
// @Summary 查询单个插件
// @Tags 插件
// @Produce json
// @Param name path string true "插件名"
// @Success 200 {object} APIResponse
// @Router /plugins/{name} [get]
func (c *PluginController) GetPlugin(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	instance, err := c.registry.Get(name)
	if err != nil {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, APIResponse{Status: -1, Msg: err.Error()})
		return
	}

	render.JSON(w, r, APIResponse{
		Status: 0,
		Msg:    "获取成功",
		Data: map[string]interface{}{
			"descriptor": instance.Descriptor(),
			"resident":   instance.IsResident(),
			"features":   instance.Features(),
		},
	})
}
