package wallet

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"farmops/pkg/errutil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/api/wallet", h.GetBalance)
}

// GetBalance reads a wallet balance by owner. Exactly one of user_id/org_id
// must be supplied; wallets that were never credited read as zero.
func (h *Handler) GetBalance(c *gin.Context) {
	userID := c.Query("user_id")
	orgID := c.Query("org_id")

	if (userID == "") == (orgID == "") {
		c.Error(errutil.BadRequest("exactly one of user_id or org_id is required"))
		return
	}

	var userPtr, orgPtr *string
	if userID != "" {
		userPtr = &userID
	} else {
		orgPtr = &orgID
	}

	balance, err := h.svc.Balance(c.Request.Context(), userPtr, orgPtr)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": balance})
}
