/*
 * @module api/routes
 * @description API路由配置模块，负责初始化和配置所有HTTP路由
 * @architecture RESTful API架构
 * @documentReference dev_docs/backend_requirements.md
 * @stateFlow 无状态HTTP请求处理
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式；控制器依赖显式注入
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs dev_docs/model.md
 */

package api

import (
	"safety-index-service/api/controllers"
	"safety-index-service/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// InitRoute 初始化所有API路由
func InitRoute(r *chi.Mux) {
	// 基础中间件
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	// CORS配置
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// 健康检查
	healthController := controllers.NewHealthController()
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)

	// 插件管理
	r.Route("/plugins", func(r chi.Router) {
		pluginController := controllers.NewPluginController(service.PluginRegistry, service.IndexStore)

		r.Get("/", pluginController.ListPlugins)
		r.Post("/", pluginController.CreatePlugin)
		r.Get("/types", pluginController.GetPluginTypes)
		r.Get("/health", pluginController.HealthCheckAll)
		r.Get("/{name}", pluginController.GetPlugin)
		r.Delete("/{name}", pluginController.DeletePlugin)
	})

	// 指数计算与查询
	r.Route("/index", func(r chi.Router) {
		indexController := controllers.NewIndexController(service.IndexPipeline, service.IndexStore)

		r.Post("/compute", indexController.Compute)
		r.Get("/records", indexController.ListRecords)
		r.Get("/constants", indexController.GetConstants)
	})

	// 实时混合评分
	r.Route("/realtime", func(r chi.Router) {
		realtimeController := controllers.NewRealtimeController(service.Blender, service.IndexStore)

		r.Post("/score", realtimeController.Score)
	})

	// 标定任务
	r.Route("/calibration", func(r chi.Router) {
		calibrationController := controllers.NewCalibrationController(service.Scheduler, service.IndexStore)

		r.Post("/run", calibrationController.RunCalibration)
		r.Post("/constants/refresh", calibrationController.RefreshConstants)
		r.Get("/model", calibrationController.GetModel)
	})
}
