package handler

import (
	"net/http"

	"factcheck-relay/internal/middleware"
	"factcheck-relay/internal/repository"
	"factcheck-relay/internal/service"

	"github.com/gin-gonic/gin"
)

// 同时提供两套部署路径，前端与后端可以沿用任意一套。
var routePrefixes = []string{"/api", "/.netlify/functions"}

// NewRouter 创建 Gin 引擎并注册中转端点与健康检查。
func NewRouter(relayService service.RelayService, repo repository.SessionRepository) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	relay := NewRelayHandler(relayService)
	for _, prefix := range routePrefixes {
		// 方法校验在处理器内完成，以便返回统一的 405 JSON
		r.Any(prefix+"/receive-message", middleware.CORS("POST, OPTIONS"), relay.ReceiveMessage)
		r.Any(prefix+"/get-message", middleware.CORS("GET, OPTIONS"), relay.GetMessage)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": repo.Backend()})
	})
	return r
}
