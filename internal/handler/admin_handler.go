package handler

import (
	"net/http"

	"github.com/hitoshi/cmsgate/internal/middleware"
	"github.com/hitoshi/cmsgate/internal/model"
)

// AdminHandler はゲート通過後の管理APIハンドラー。
// ゲートが付与したIdentityのみを参照し、資格情報は扱わない。
type AdminHandler struct{}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler() *AdminHandler {
	return &AdminHandler{}
}

type meResponse struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Me は現在の管理者のemailとロールを返す。
// GET /api/admin/me
func (h *AdminHandler) Me(w http.ResponseWriter, r *http.Request) {
	ident, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	middleware.WriteJSON(w, http.StatusOK, meResponse{
		Email: ident.Email,
		Role:  string(ident.Role),
	})
}
