package middleware

import (
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS returns a configured CORS middleware. An empty list or "*" allows
// every origin.
func CORS(origins []string) gin.HandlerFunc {
	config := cors.DefaultConfig()
	if len(origins) == 0 || slices.Contains(origins, "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	config.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}

	return cors.New(config)
}
