package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"user-management-api/backend/internal/models"
	"user-management-api/backend/internal/service"
	apperrors "user-management-api/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

// UserController handles the /api/users resource
type UserController struct {
	service          *service.UserService
	enableFaultRoute bool
}

// NewUserController creates a new UserController. enableFaultRoute registers
// GET /users/throw, which always panics.
func NewUserController(svc *service.UserService, enableFaultRoute bool) *UserController {
	return &UserController{service: svc, enableFaultRoute: enableFaultRoute}
}

// RegisterRoutes mounts the user routes on group
func (uc *UserController) RegisterRoutes(group *gin.RouterGroup) {
	users := group.Group("/users")
	users.GET("", uc.GetAll)
	if uc.enableFaultRoute {
		users.GET("/throw", uc.Throw)
	}
	users.GET("/:id", uc.GetByID)
	users.POST("", uc.Create)
	users.PUT("/:id", uc.Update)
	users.DELETE("/:id", uc.Delete)
}

// GetAll lists every user
func (uc *UserController) GetAll(c *gin.Context) {
	users, err := uc.service.GetAll(c.Request.Context())
	if err != nil {
		apperrors.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// GetByID returns one user
func (uc *UserController) GetByID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	user, err := uc.service.GetByID(c.Request.Context(), id)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// Create adds a user and points Location at it
func (uc *UserController) Create(c *gin.Context) {
	var req models.UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Abort(c, apperrors.FromBindingError(err))
		return
	}

	user, err := uc.service.Create(c.Request.Context(), &req)
	if err != nil {
		apperrors.AbortWithError(c, err)
		return
	}

	c.Header("Location", fmt.Sprintf("/api/users/%d", user.ID))
	c.JSON(http.StatusCreated, user)
}

// Update replaces name and email of an existing user
func (uc *UserController) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req models.UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Abort(c, apperrors.FromBindingError(err))
		return
	}

	if err := uc.service.Update(c.Request.Context(), id, &req); err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete removes a user
func (uc *UserController) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := uc.service.Delete(c.Request.Context(), id); err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Throw simulates an unhandled failure
func (uc *UserController) Throw(c *gin.Context) {
	panic("simulated failure")
}

func parseID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		apperrors.Abort(c, apperrors.NewBadRequestError(apperrors.CodeBadRequest, "Invalid user id."))
		return 0, false
	}
	return id, true
}

func abortWithServiceError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrUserNotFound) {
		apperrors.Abort(c, apperrors.NewNotFoundError(apperrors.CodeNotFound, apperrors.MsgNotFound))
		return
	}
	apperrors.AbortWithError(c, err)
}
