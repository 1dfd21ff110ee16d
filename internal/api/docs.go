package api

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title Recall API
// @version 1.0
// @description Personal memory and retrieval service. Stores tiered, privacy-classified memories, answers questions over them through a retrieval-augmented pipeline with semantic caching, and maintains threaded conversations with rolling summaries.

// @contact.name API Support
// @contact.url https://github.com/S-Corkum/recall/issues

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description Static API key for operational endpoints

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the JWT access token

// @tag.name query
// @tag.description Question answering over stored memories

// @tag.name memories
// @tag.description CRUD over tiered, privacy-classified memory items

// @tag.name conversations
// @tag.description Threaded chats with rolling summaries; new turns run the full pipeline

// @tag.name feedback
// @tag.description Ratings on answered queries, folded back into ranking and tuning

// @tag.name admin
// @tag.description Operator views of the auto-tuner state

// SetupSwaggerDocs mounts the swagger UI.
func SetupSwaggerDocs(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}
