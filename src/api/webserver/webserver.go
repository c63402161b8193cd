package webserver

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func New(db *gorm.DB) *gin.Engine {
	g := gin.New()
	g.Use(gin.Logger(), gin.Recovery(), cors.Default())
	attachRoutes(g, db)
	return g
}

func attachRoutes(g *gin.Engine, db *gorm.DB) {
	lb := NewLeaderboard(db)

	v1 := g.Group("/v1")
	v1.GET("/health", lb.Health)
	v1.GET("/guilds/:id/leaderboard", lb.Top)
	v1.GET("/guilds/:id/star", lb.Star)
}
