package core

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
)

// AdminOnly fetches the persisted user record for the authenticated subject
// and halts unless its role is administrator. Must run after RequireSignIn.
//
// Every failure is a 401, including "user no longer exists" and "store
// errored": callers cannot distinguish missing from forbidden, and the status
// code matches what the rest of the system's clients already handle.
func AdminOnly(users UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := AuthUserID(c)
		if !ok {
			respondError(c, http.StatusUnauthorized, "Authentication token required")
			c.Abort()
			return
		}

		u, err := users.FindByID(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				respondError(c, http.StatusUnauthorized, "User not found")
			} else {
				respondErrorWith(c, http.StatusUnauthorized, "Error in admin middleware", err)
			}
			c.Abort()
			return
		}

		if u.Role != RoleAdmin {
			respondError(c, http.StatusUnauthorized, "UnAuthorized Access")
			c.Abort()
			return
		}

		c.Next()
	}
}
