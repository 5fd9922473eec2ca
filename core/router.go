package core

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

// Deps bundles the collaborators the router needs. Everything is an interface
// so handlers can be exercised against in-memory fakes.
type Deps struct {
	Users      UserRepository
	Categories CategoryRepository
	Products   ProductRepository
	Orders     OrderRepository
	Auth       AuthService
	Queue      RedisClient
	Metrics    *MetricsService
	Payments   PaymentClient
}

// NewRouter constructs the Gin engine with routes wired.
func NewRouter(cfg Config, deps Deps) *gin.Engine {
	startedAt := time.Now()
	r := gin.Default()

	r.Use(OriginMiddleware(cfg))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	secret := []byte(cfg.JWTSecret)
	tokenTTL := time.Duration(cfg.TokenTTLHours) * time.Hour
	signedIn := RequireSignIn(secret)
	adminOnly := AdminOnly(deps.Users)

	api := r.Group("/api/v1")

	auth := api.Group("/auth")
	{
		auth.POST("/register", func(c *gin.Context) {
			var req struct {
				Name     string `json:"name"`
				Email    string `json:"email"`
				Password string `json:"password"`
				Phone    string `json:"phone"`
				Address  string `json:"address"`
				Answer   string `json:"answer"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "invalid json")
				return
			}
			for _, f := range []struct{ val, msg string }{
				{req.Name, "Name is required"},
				{req.Email, "Email is required"},
				{req.Password, "Password is required"},
				{req.Phone, "Phone is required"},
				{req.Address, "Address is required"},
				{req.Answer, "Answer is required"},
			} {
				if strings.TrimSpace(f.val) == "" {
					respondError(c, http.StatusBadRequest, f.msg)
					return
				}
			}
			if len(req.Password) < 6 {
				respondError(c, http.StatusBadRequest, "Password must be at least 6 characters long")
				return
			}

			ctx := c.Request.Context()
			if _, err := deps.Users.FindByEmail(ctx, req.Email); err == nil {
				respondError(c, http.StatusConflict, "Already registered, please login")
				return
			} else if !errors.Is(err, pgx.ErrNoRows) {
				respondErrorWith(c, http.StatusInternalServerError, "Error in registration", err)
				return
			}

			hash, err := HashPassword(req.Password)
			if err != nil {
				// A failed hash must never be stored; the registration fails.
				respondErrorWith(c, http.StatusInternalServerError, "Error in registration", err)
				return
			}

			id, err := deps.Users.Create(ctx, UserCreateInput{
				Name:         strings.TrimSpace(req.Name),
				Email:        req.Email,
				PasswordHash: hash,
				Phone:        strings.TrimSpace(req.Phone),
				Address:      strings.TrimSpace(req.Address),
				Answer:       strings.TrimSpace(req.Answer),
				Role:         RoleUser,
			})
			if err != nil {
				if strings.Contains(err.Error(), "duplicate") || strings.Contains(err.Error(), "unique") {
					respondError(c, http.StatusConflict, "Already registered, please login")
					return
				}
				respondErrorWith(c, http.StatusInternalServerError, "Error in registration", err)
				return
			}

			c.JSON(http.StatusCreated, gin.H{
				"success": true,
				"message": "User registered successfully",
				"user": gin.H{
					"id":      id,
					"name":    strings.TrimSpace(req.Name),
					"email":   strings.ToLower(strings.TrimSpace(req.Email)),
					"phone":   strings.TrimSpace(req.Phone),
					"address": strings.TrimSpace(req.Address),
					"role":    RoleUser,
				},
			})
		})

		auth.POST("/login", func(c *gin.Context) {
			var req struct {
				Email    string `json:"email"`
				Password string `json:"password"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "invalid json")
				return
			}
			if strings.TrimSpace(req.Email) == "" || req.Password == "" {
				respondError(c, http.StatusBadRequest, "Email and password are required")
				return
			}

			ctx := c.Request.Context()
			user, err := deps.Auth.Authenticate(ctx, req.Email, req.Password)
			if err != nil {
				switch {
				case errors.Is(err, ErrEmailNotRegistered):
					respondError(c, http.StatusUnauthorized, "Email is not registered")
				case errors.Is(err, ErrInvalidPassword):
					respondError(c, http.StatusUnauthorized, "Invalid password")
				default:
					respondErrorWith(c, http.StatusInternalServerError, "Error in login", err)
				}
				return
			}

			token, err := IssueToken(user.ID, secret, tokenTTL)
			if err != nil {
				respondErrorWith(c, http.StatusInternalServerError, "Error in login", err)
				return
			}

			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"message": "Login successful",
				"user": gin.H{
					"id":      user.ID,
					"name":    user.Name,
					"email":   user.Email,
					"phone":   user.Phone,
					"address": user.Address,
					"role":    user.Role,
				},
				"token": token,
			})
		})

		auth.POST("/forgot-password", func(c *gin.Context) {
			var req struct {
				Email       string `json:"email"`
				Answer      string `json:"answer"`
				NewPassword string `json:"new_password"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "invalid json")
				return
			}
			if strings.TrimSpace(req.Email) == "" {
				respondError(c, http.StatusBadRequest, "Email is required")
				return
			}
			if strings.TrimSpace(req.Answer) == "" {
				respondError(c, http.StatusBadRequest, "Answer is required")
				return
			}
			if len(req.NewPassword) < 6 {
				respondError(c, http.StatusBadRequest, "Password must be at least 6 characters long")
				return
			}

			hash, err := HashPassword(req.NewPassword)
			if err != nil {
				respondErrorWith(c, http.StatusInternalServerError, "Error in password reset", err)
				return
			}

			ctx := c.Request.Context()
			if err := deps.Users.ResetPassword(ctx, req.Email, strings.TrimSpace(req.Answer), hash); err != nil {
				if errors.Is(err, ErrAnswerMismatch) {
					respondError(c, http.StatusUnauthorized, "Wrong email or answer")
					return
				}
				respondErrorWith(c, http.StatusInternalServerError, "Error in password reset", err)
				return
			}

			c.JSON(http.StatusOK, gin.H{"success": true, "message": "Password reset successfully"})
		})

		auth.PUT("/profile", signedIn, func(c *gin.Context) {
			userID, ok := AuthUserID(c)
			if !ok {
				respondError(c, http.StatusUnauthorized, "Authentication token required")
				return
			}

			var req struct {
				Name     *string `json:"name"`
				Password *string `json:"password"`
				Phone    *string `json:"phone"`
				Address  *string `json:"address"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "invalid json")
				return
			}

			input := ProfileUpdateInput{
				Name:    req.Name,
				Phone:   req.Phone,
				Address: req.Address,
			}
			if req.Password != nil {
				if len(*req.Password) < 6 {
					respondError(c, http.StatusBadRequest, "Password must be at least 6 characters long")
					return
				}
				hash, err := HashPassword(*req.Password)
				if err != nil {
					respondErrorWith(c, http.StatusInternalServerError, "Error while updating profile", err)
					return
				}
				input.PasswordHash = &hash
			}

			ctx := c.Request.Context()
			if err := deps.Users.UpdateProfile(ctx, userID, input); err != nil {
				respondErrorWith(c, http.StatusInternalServerError, "Error while updating profile", err)
				return
			}

			u, err := deps.Users.FindByID(ctx, userID)
			if err != nil {
				respondErrorWith(c, http.StatusInternalServerError, "Error while updating profile", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"message": "Profile updated successfully",
				"user": gin.H{
					"id":      u.ID,
					"name":    u.Name,
					"email":   u.Email,
					"phone":   u.Phone,
					"address": u.Address,
					"role":    u.Role,
				},
			})
		})

		// Route guards the SPA probes to decide what to render.
		auth.GET("/user-auth", signedIn, func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"ok": true})
		})
		auth.GET("/admin-auth", signedIn, adminOnly, func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"ok": true})
		})

		auth.GET("/orders", signedIn, func(c *gin.Context) {
			userID, _ := AuthUserID(c)
			page, perPage, err := parsePagination(c.Query("page"), c.Query("per_page"))
			if err != nil {
				respondError(c, http.StatusBadRequest, err.Error())
				return
			}
			items, total, err := deps.Orders.ListByUser(c.Request.Context(), userID, page, perPage)
			if err != nil {
				respondErrorWith(c, http.StatusInternalServerError, "Error while fetching orders", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"items":       items,
				"page":        page,
				"per_page":    perPage,
				"total_items": total,
				"total_pages": calcTotalPages(total, perPage),
			})
		})

		auth.GET("/all-orders", signedIn, adminOnly, func(c *gin.Context) {
			page, perPage, err := parsePagination(c.Query("page"), c.Query("per_page"))
			if err != nil {
				respondError(c, http.StatusBadRequest, err.Error())
				return
			}
			var status *string
			if s := strings.TrimSpace(c.Query("status")); s != "" {
				status = &s
			}
			items, total, err := deps.Orders.AdminList(c.Request.Context(), status, page, perPage)
			if err != nil {
				if errors.Is(err, ErrInvalidOrderStatus) {
					respondError(c, http.StatusBadRequest, "Unknown order status")
					return
				}
				respondErrorWith(c, http.StatusInternalServerError, "Error while fetching orders", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"items":       items,
				"page":        page,
				"per_page":    perPage,
				"total_items": total,
				"total_pages": calcTotalPages(total, perPage),
			})
		})

		auth.PUT("/order-status/:id", signedIn, adminOnly, func(c *gin.Context) {
			id, err := strconv.ParseInt(c.Param("id"), 10, 64)
			if err != nil || id <= 0 {
				respondError(c, http.StatusBadRequest, "invalid order id")
				return
			}
			var req struct {
				Status string `json:"status"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "invalid json")
				return
			}

			order, err := deps.Orders.UpdateStatus(c.Request.Context(), id, strings.TrimSpace(req.Status))
			if err != nil {
				switch {
				case errors.Is(err, ErrInvalidOrderStatus):
					respondError(c, http.StatusBadRequest, "Unknown order status")
				case errors.Is(err, ErrForbiddenTransition):
					respondError(c, http.StatusConflict, "Order status transition not allowed")
				case errors.Is(err, pgx.ErrNoRows):
					respondError(c, http.StatusNotFound, "Order not found")
				default:
					respondErrorWith(c, http.StatusInternalServerError, "Error while updating order", err)
				}
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"order": gin.H{
					"id":     order.ID,
					"status": order.Status,
				},
			})
		})

		auth.GET("/all-users", signedIn, adminOnly, func(c *gin.Context) {
			page, perPage, err := parsePagination(c.Query("page"), c.Query("per_page"))
			if err != nil {
				respondError(c, http.StatusBadRequest, err.Error())
				return
			}
			items, total, err := deps.Users.List(c.Request.Context(), page, perPage)
			if err != nil {
				respondErrorWith(c, http.StatusInternalServerError, "Error while fetching users", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"items":       items,
				"page":        page,
				"per_page":    perPage,
				"total_items": total,
				"total_pages": calcTotalPages(total, perPage),
			})
		})
	}

	category := api.Group("/category")
	{
		category.GET("/get-category", func(c *gin.Context) {
			items, err := deps.Categories.List(c.Request.Context())
			if err != nil {
				respondErrorWith(c, http.StatusInternalServerError, "Error while fetching categories", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "categories": items})
		})

		category.GET("/single-category/:slug", func(c *gin.Context) {
			cat, err := deps.Categories.FindBySlug(c.Request.Context(), c.Param("slug"))
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					respondError(c, http.StatusNotFound, "Category not found")
					return
				}
				respondErrorWith(c, http.StatusInternalServerError, "Error while fetching category", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "category": cat})
		})

		category.POST("/create-category", signedIn, adminOnly, func(c *gin.Context) {
			var req struct {
				Name string `json:"name"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "invalid json")
				return
			}
			name := strings.TrimSpace(req.Name)
			if name == "" {
				respondError(c, http.StatusBadRequest, "Name is required")
				return
			}
			slug := Slugify(name)
			if slug == "" {
				respondError(c, http.StatusBadRequest, "Name must contain letters or digits")
				return
			}

			cat, err := deps.Categories.Create(c.Request.Context(), name, slug)
			if err != nil {
				if strings.Contains(err.Error(), "duplicate") || strings.Contains(err.Error(), "unique") {
					respondError(c, http.StatusConflict, "Category already exists")
					return
				}
				respondErrorWith(c, http.StatusInternalServerError, "Error while creating category", err)
				return
			}
			c.JSON(http.StatusCreated, gin.H{"success": true, "category": cat})
		})

		category.PUT("/update-category/:id", signedIn, adminOnly, func(c *gin.Context) {
			id, err := strconv.ParseInt(c.Param("id"), 10, 64)
			if err != nil || id <= 0 {
				respondError(c, http.StatusBadRequest, "invalid category id")
				return
			}
			var req struct {
				Name string `json:"name"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "invalid json")
				return
			}
			name := strings.TrimSpace(req.Name)
			if name == "" {
				respondError(c, http.StatusBadRequest, "Name is required")
				return
			}

			cat, err := deps.Categories.Update(c.Request.Context(), id, name, Slugify(name))
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					respondError(c, http.StatusNotFound, "Category not found")
					return
				}
				respondErrorWith(c, http.StatusInternalServerError, "Error while updating category", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "category": cat})
		})

		category.DELETE("/delete-category/:id", signedIn, adminOnly, func(c *gin.Context) {
			id, err := strconv.ParseInt(c.Param("id"), 10, 64)
			if err != nil || id <= 0 {
				respondError(c, http.StatusBadRequest, "invalid category id")
				return
			}
			if err := deps.Categories.Delete(c.Request.Context(), id); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					respondError(c, http.StatusNotFound, "Category not found")
					return
				}
				respondErrorWith(c, http.StatusInternalServerError, "Error while deleting category", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "Category deleted"})
		})
	}

	product := api.Group("/product")
	{
		product.GET("/get-product", func(c *gin.Context) {
			page, perPage, err := parsePagination(c.Query("page"), c.Query("per_page"))
			if err != nil {
				respondError(c, http.StatusBadRequest, err.Error())
				return
			}
			items, total, err := deps.Products.List(c.Request.Context(), page, perPage)
			if err != nil {
				respondErrorWith(c, http.StatusInternalServerError, "Error while fetching products", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"success":     true,
				"products":    items,
				"page":        page,
				"per_page":    perPage,
				"total_items": total,
				"total_pages": calcTotalPages(total, perPage),
			})
		})

		product.GET("/get-product/:slug", func(c *gin.Context) {
			p, err := deps.Products.FindBySlug(c.Request.Context(), c.Param("slug"))
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					respondError(c, http.StatusNotFound, "Product not found")
					return
				}
				respondErrorWith(c, http.StatusInternalServerError, "Error while fetching product", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "product": p})
		})

		product.GET("/product-list/:page", func(c *gin.Context) {
			page, err := strconv.Atoi(c.Param("page"))
			if err != nil || page <= 0 {
				respondError(c, http.StatusBadRequest, "invalid page")
				return
			}
			items, total, err := deps.Products.List(c.Request.Context(), page, defaultPerPage)
			if err != nil {
				respondErrorWith(c, http.StatusInternalServerError, "Error while fetching products", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"success":     true,
				"products":    items,
				"page":        page,
				"per_page":    defaultPerPage,
				"total_items": total,
				"total_pages": calcTotalPages(total, defaultPerPage),
			})
		})

		product.GET("/product-count", func(c *gin.Context) {
			total, err := deps.Products.Count(c.Request.Context())
			if err != nil {
				respondErrorWith(c, http.StatusInternalServerError, "Error while counting products", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "total": total})
		})

		product.POST("/product-filters", func(c *gin.Context) {
			var req struct {
				CategoryIDs   []int64 `json:"category_ids"`
				PriceMinCents int64   `json:"price_min_cents"`
				PriceMaxCents int64   `json:"price_max_cents"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "invalid json")
				return
			}
			page, perPage, err := parsePagination(c.Query("page"), c.Query("per_page"))
			if err != nil {
				respondError(c, http.StatusBadRequest, err.Error())
				return
			}
			items, total, err := deps.Products.Filter(c.Request.Context(), ProductFilter{
				CategoryIDs:   req.CategoryIDs,
				PriceMinCents: req.PriceMinCents,
				PriceMaxCents: req.PriceMaxCents,
			}, page, perPage)
			if err != nil {
				respondErrorWith(c, http.StatusInternalServerError, "Error while filtering products", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"success":     true,
				"products":    items,
				"total_items": total,
				"total_pages": calcTotalPages(total, perPage),
			})
		})

		product.GET("/search/:keyword", func(c *gin.Context) {
			keyword := strings.TrimSpace(c.Param("keyword"))
			if keyword == "" {
				respondError(c, http.StatusBadRequest, "keyword is required")
				return
			}
			items, err := deps.Products.Search(c.Request.Context(), keyword, maxPerPage)
			if err != nil {
				respondErrorWith(c, http.StatusInternalServerError, "Error while searching products", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "products": items})
		})

		product.GET("/related-product/:pid/:cid", func(c *gin.Context) {
			pid, err := strconv.ParseInt(c.Param("pid"), 10, 64)
			if err != nil || pid <= 0 {
				respondError(c, http.StatusBadRequest, "invalid product id")
				return
			}
			cid, err := strconv.ParseInt(c.Param("cid"), 10, 64)
			if err != nil || cid <= 0 {
				respondError(c, http.StatusBadRequest, "invalid category id")
				return
			}
			items, err := deps.Products.Related(c.Request.Context(), pid, cid, 4)
			if err != nil {
				respondErrorWith(c, http.StatusInternalServerError, "Error while fetching related products", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "products": items})
		})

		product.GET("/product-category/:slug", func(c *gin.Context) {
			ctx := c.Request.Context()
			cat, err := deps.Categories.FindBySlug(ctx, c.Param("slug"))
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					respondError(c, http.StatusNotFound, "Category not found")
					return
				}
				respondErrorWith(c, http.StatusInternalServerError, "Error while fetching category", err)
				return
			}
			items, err := deps.Products.ListByCategory(ctx, cat.ID)
			if err != nil {
				respondErrorWith(c, http.StatusInternalServerError, "Error while fetching products", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "category": cat, "products": items})
		})

		product.POST("/create-product", signedIn, adminOnly, func(c *gin.Context) {
			var req struct {
				CategoryID  int64  `json:"category_id"`
				Name        string `json:"name"`
				Description string `json:"description"`
				PriceCents  int64  `json:"price_cents"`
				Quantity    int    `json:"quantity"`
				Shipping    bool   `json:"shipping"`
				PhotoURL    string `json:"photo_url"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "invalid json")
				return
			}
			if strings.TrimSpace(req.Name) == "" {
				respondError(c, http.StatusBadRequest, "Name is required")
				return
			}
			if req.CategoryID <= 0 {
				respondError(c, http.StatusBadRequest, "Category is required")
				return
			}
			if req.PriceCents <= 0 {
				respondError(c, http.StatusBadRequest, "Price must be positive")
				return
			}
			if req.Quantity < 0 {
				respondError(c, http.StatusBadRequest, "Quantity cannot be negative")
				return
			}

			ctx := c.Request.Context()
			if _, err := deps.Categories.FindByID(ctx, req.CategoryID); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					respondError(c, http.StatusBadRequest, "Category not found")
					return
				}
				respondErrorWith(c, http.StatusInternalServerError, "Error while creating product", err)
				return
			}

			name := strings.TrimSpace(req.Name)
			id, err := deps.Products.Create(ctx, ProductCreateInput{
				CategoryID:  req.CategoryID,
				Name:        name,
				Slug:        Slugify(name),
				Description: req.Description,
				PriceCents:  req.PriceCents,
				Quantity:    req.Quantity,
				Shipping:    req.Shipping,
				PhotoURL:    strings.TrimSpace(req.PhotoURL),
			})
			if err != nil {
				if strings.Contains(err.Error(), "duplicate") || strings.Contains(err.Error(), "unique") {
					respondError(c, http.StatusConflict, "Product with the same slug already exists")
					return
				}
				respondErrorWith(c, http.StatusInternalServerError, "Error while creating product", err)
				return
			}
			c.JSON(http.StatusCreated, gin.H{"success": true, "id": id, "slug": Slugify(name)})
		})

		product.PUT("/update-product/:id", signedIn, adminOnly, func(c *gin.Context) {
			id, err := strconv.ParseInt(c.Param("id"), 10, 64)
			if err != nil || id <= 0 {
				respondError(c, http.StatusBadRequest, "invalid product id")
				return
			}
			var req struct {
				CategoryID  *int64  `json:"category_id"`
				Name        *string `json:"name"`
				Description *string `json:"description"`
				PriceCents  *int64  `json:"price_cents"`
				Quantity    *int    `json:"quantity"`
				Shipping    *bool   `json:"shipping"`
				PhotoURL    *string `json:"photo_url"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "invalid json")
				return
			}

			input := ProductUpdateInput{
				CategoryID:  req.CategoryID,
				Name:        req.Name,
				Description: req.Description,
				PriceCents:  req.PriceCents,
				Quantity:    req.Quantity,
				Shipping:    req.Shipping,
				PhotoURL:    req.PhotoURL,
			}
			if req.Name != nil {
				slug := Slugify(*req.Name)
				input.Slug = &slug
			}

			if err := deps.Products.Update(c.Request.Context(), id, input); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					respondError(c, http.StatusNotFound, "Product not found")
					return
				}
				respondErrorWith(c, http.StatusInternalServerError, "Error while updating product", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "Product updated"})
		})

		product.DELETE("/delete-product/:id", signedIn, adminOnly, func(c *gin.Context) {
			id, err := strconv.ParseInt(c.Param("id"), 10, 64)
			if err != nil || id <= 0 {
				respondError(c, http.StatusBadRequest, "invalid product id")
				return
			}
			if err := deps.Products.Delete(c.Request.Context(), id); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					respondError(c, http.StatusNotFound, "Product not found")
					return
				}
				respondErrorWith(c, http.StatusInternalServerError, "Error while deleting product", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "Product deleted"})
		})
	}

	payment := api.Group("/payment")
	{
		payment.GET("/token", signedIn, func(c *gin.Context) {
			token, err := deps.Payments.ClientToken(c.Request.Context())
			if err != nil {
				respondErrorWith(c, http.StatusBadGateway, "Error while fetching payment token", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"client_token": token})
		})

		payment.POST("/checkout", signedIn, func(c *gin.Context) {
			userID, _ := AuthUserID(c)

			var req struct {
				Nonce string `json:"nonce"`
				Cart  []struct {
					ProductID int64 `json:"product_id"`
					Quantity  int   `json:"quantity"`
				} `json:"cart"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "invalid json")
				return
			}
			if strings.TrimSpace(req.Nonce) == "" {
				respondError(c, http.StatusBadRequest, "Payment nonce is required")
				return
			}
			if len(req.Cart) == 0 {
				respondError(c, http.StatusBadRequest, "Cart is empty")
				return
			}

			// Merge duplicate cart lines; quantities must be positive.
			quantities := make(map[int64]int, len(req.Cart))
			ids := make([]int64, 0, len(req.Cart))
			for _, line := range req.Cart {
				if line.ProductID <= 0 || line.Quantity <= 0 {
					respondError(c, http.StatusBadRequest, "Cart lines need a product id and a positive quantity")
					return
				}
				if _, seen := quantities[line.ProductID]; !seen {
					ids = append(ids, line.ProductID)
				}
				quantities[line.ProductID] += line.Quantity
			}

			ctx := c.Request.Context()
			saleItems, err := deps.Products.GetForSale(ctx, ids)
			if err != nil {
				respondErrorWith(c, http.StatusInternalServerError, "Error during checkout", err)
				return
			}

			// Totals come from stored prices, never from the client.
			var totalCents int64
			items := make([]OrderItem, 0, len(ids))
			for _, id := range ids {
				sale, ok := saleItems[id]
				if !ok {
					respondError(c, http.StatusBadRequest, "Cart references an unknown product")
					return
				}
				qty := quantities[id]
				if sale.Quantity < qty {
					respondError(c, http.StatusConflict, "Not enough stock for "+sale.Name)
					return
				}
				totalCents += sale.PriceCents * int64(qty)
				items = append(items, OrderItem{
					ProductID:      sale.ID,
					Name:           sale.Name,
					UnitPriceCents: sale.PriceCents,
					Quantity:       qty,
				})
			}

			payRes, err := deps.Payments.Sale(ctx, req.Nonce, totalCents)
			if err != nil {
				respondErrorWith(c, http.StatusPaymentRequired, "Payment failed", err)
				return
			}

			orderID, createdAt, err := deps.Orders.Create(ctx, OrderCreateInput{
				UserID:     userID,
				PaymentRef: payRes.TransactionID,
				TotalCents: totalCents,
				Items:      items,
			})
			if err != nil {
				respondErrorWith(c, http.StatusInternalServerError, "Error while saving order", err)
				return
			}

			if err := deps.Queue.Enqueue(ctx, PendingQueueKey, strconv.FormatInt(orderID, 10)); err != nil {
				_ = deps.Orders.Delete(ctx, orderID)
				respondErrorWith(c, http.StatusInternalServerError, "Error while scheduling fulfillment", err)
				return
			}

			c.JSON(http.StatusCreated, gin.H{
				"success":     true,
				"order_id":    orderID,
				"total_cents": totalCents,
				"status":      OrderStatusPending,
				"payment_ref": payRes.TransactionID,
				"created_at":  createdAt,
			})
		})
	}

	admin := api.Group("/admin")
	admin.Use(signedIn, adminOnly)
	{
		metrics := admin.Group("/metrics")
		{
			metrics.GET("/overview", func(c *gin.Context) {
				queueMetrics, workers, err := deps.Metrics.Overview(c.Request.Context())
				if err != nil {
					respondErrorWith(c, http.StatusInternalServerError, "Error while loading metrics", err)
					return
				}
				c.JSON(http.StatusOK, gin.H{
					"queues":  queueMetrics,
					"workers": workers,
				})
			})

			metrics.GET("/queues", func(c *gin.Context) {
				queueMetrics, err := deps.Metrics.Queue(c.Request.Context())
				if err != nil {
					respondErrorWith(c, http.StatusInternalServerError, "Error while loading queue metrics", err)
					return
				}
				c.JSON(http.StatusOK, queueMetrics)
			})

			metrics.GET("/workers", func(c *gin.Context) {
				workers, err := deps.Metrics.Workers(c.Request.Context())
				if err != nil {
					respondErrorWith(c, http.StatusInternalServerError, "Error while loading workers", err)
					return
				}
				c.JSON(http.StatusOK, gin.H{"workers": workers})
			})

			metrics.GET("/workers/:id", func(c *gin.Context) {
				hb, err := deps.Metrics.WorkerByID(c.Request.Context(), c.Param("id"))
				if err != nil {
					if errors.Is(err, redis.Nil) {
						respondError(c, http.StatusNotFound, "Worker not found")
						return
					}
					respondErrorWith(c, http.StatusInternalServerError, "Error while loading worker", err)
					return
				}
				c.JSON(http.StatusOK, hb)
			})
		}

		admin.GET("/system/status", func(c *gin.Context) {
			st, err := CollectSystemStatus(c.Request.Context(), deps.Metrics, startedAt)
			if err != nil {
				respondErrorWith(c, http.StatusInternalServerError, "Error while loading system status", err)
				return
			}
			c.JSON(http.StatusOK, st)
		})

		admin.GET("/products", func(c *gin.Context) {
			page, perPage, err := parsePagination(c.Query("page"), c.Query("per_page"))
			if err != nil {
				respondError(c, http.StatusBadRequest, err.Error())
				return
			}
			items, total, err := deps.Products.AdminList(c.Request.Context(), page, perPage)
			if err != nil {
				respondErrorWith(c, http.StatusInternalServerError, "Error while fetching products", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"items":       items,
				"page":        page,
				"per_page":    perPage,
				"total_items": total,
				"total_pages": calcTotalPages(total, perPage),
			})
		})

		admin.GET("/catalog/template", func(c *gin.Context) {
			data, err := buildCatalogTemplateZip()
			if err != nil {
				respondErrorWith(c, http.StatusInternalServerError, "Error while building template", err)
				return
			}
			c.Header("Content-Type", "application/zip")
			c.Header("Content-Disposition", "attachment; filename=sample-category.zip")
			c.Data(http.StatusOK, "application/zip", data)
		})

		admin.POST("/catalog/import", func(c *gin.Context) {
			fileHeader, err := c.FormFile("file")
			if err != nil {
				respondError(c, http.StatusBadRequest, "Attach a zip in the file field")
				return
			}
			if fileHeader.Size > maxCatalogImportSize {
				respondError(c, http.StatusBadRequest, "File too large (8MB limit)")
				return
			}
			file, err := fileHeader.Open()
			if err != nil {
				respondError(c, http.StatusBadRequest, "Cannot open uploaded file")
				return
			}
			defer file.Close()
			limited := io.LimitReader(file, maxCatalogImportSize+1024)
			data, err := io.ReadAll(limited)
			if err != nil {
				respondErrorWith(c, http.StatusInternalServerError, "Error while reading upload", err)
				return
			}
			if int64(len(data)) > maxCatalogImportSize {
				respondError(c, http.StatusBadRequest, "File too large (8MB limit)")
				return
			}

			pkg, err := ParseCatalogArchive(data)
			if err != nil {
				respondError(c, http.StatusBadRequest, err.Error())
				return
			}

			ctx := c.Request.Context()
			cat, err := deps.Categories.FindBySlug(ctx, pkg.CategorySlug)
			if err != nil {
				if !errors.Is(err, pgx.ErrNoRows) {
					respondErrorWith(c, http.StatusInternalServerError, "Error while importing catalog", err)
					return
				}
				cat, err = deps.Categories.Create(ctx, pkg.CategoryName, pkg.CategorySlug)
				if err != nil {
					respondErrorWith(c, http.StatusInternalServerError, "Error while importing catalog", err)
					return
				}
			}

			var created []gin.H
			for _, p := range pkg.Products {
				id, err := deps.Products.Create(ctx, ProductCreateInput{
					CategoryID:  cat.ID,
					Name:        p.Name,
					Slug:        p.Slug,
					Description: p.Description,
					PriceCents:  p.PriceCents,
					Quantity:    p.Quantity,
					Shipping:    p.Shipping,
					PhotoURL:    p.PhotoURL,
				})
				if err != nil {
					if strings.Contains(err.Error(), "duplicate") || strings.Contains(err.Error(), "unique") {
						respondError(c, http.StatusConflict, "Product with slug "+p.Slug+" already exists")
						return
					}
					respondErrorWith(c, http.StatusInternalServerError, "Error while importing catalog", err)
					return
				}
				created = append(created, gin.H{"id": id, "slug": p.Slug})
			}

			c.JSON(http.StatusCreated, gin.H{
				"success":  true,
				"category": cat,
				"products": created,
			})
		})
	}

	return r
}

const (
	defaultPerPage       = 12
	maxPerPage           = 100
	maxCatalogImportSize = 8 * 1024 * 1024 // 8MB (upload payload limit)
)

func parsePagination(pageStr, perPageStr string) (int, int, error) {
	page := 1
	perPage := defaultPerPage
	if strings.TrimSpace(pageStr) != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, errors.New("page must be a positive integer")
		}
		page = p
	}
	if strings.TrimSpace(perPageStr) != "" {
		p, err := strconv.Atoi(perPageStr)
		if err != nil || p <= 0 {
			return 0, 0, errors.New("per_page must be a positive integer")
		}
		if p > maxPerPage {
			p = maxPerPage
		}
		perPage = p
	}
	return page, perPage, nil
}

func calcTotalPages(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}

func buildCatalogTemplateZip() ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)

	files := []struct {
		name    string
		content string
	}{
		{
			name: "sample-category/category.yaml",
			content: `name: "Sample Category"
slug: sample-category
`,
		},
		{
			name: "sample-category/products/sample-product/product.yaml",
			content: `name: "Sample Product"
slug: sample-product
price_cents: 1999
quantity: 10
shipping: true
`,
		},
		{
			name:    "sample-category/products/sample-product/description.md",
			content: "A short description of the product.\n",
		},
	}

	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(f.content)); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
