package handler

import (
	"github.com/gin-gonic/gin"

	"novel-forge-api/internal/application/genre"
	"novel-forge-api/internal/interfaces/http/dto"
)

// GenreHandler 流派注册表处理器
type GenreHandler struct{}

// NewGenreHandler 创建流派处理器
func NewGenreHandler() *GenreHandler {
	return &GenreHandler{}
}

// ListGenres 列出支持的流派与子流派
// @Summary 列出流派
// @Tags Genres
// @Produce json
// @Success 200 {object} dto.Response[[]dto.GenreResponse]
// @Router /v1/genres [get]
func (h *GenreHandler) ListGenres(c *gin.Context) {
	dto.Success(c, dto.ToGenreResponses(genre.List()))
}
