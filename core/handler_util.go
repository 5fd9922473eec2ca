package core

import "github.com/gin-gonic/gin"

// respondError sends the unified failure payload {"success": false, "message": ...}.
func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

// respondErrorWith additionally echoes the underlying error for diagnostics.
func respondErrorWith(c *gin.Context, status int, message string, err error) {
	body := gin.H{"success": false, "message": message}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(status, body)
}
