package api

import (
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"storefront/internal/imagestore"
	"storefront/internal/models"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

var allowedImageTypes = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
}

func (h *Handler) listProducts(c *gin.Context) {
	f := models.ProductFilter{
		Category: strings.TrimSpace(c.Query("category")),
		Brand:    strings.TrimSpace(c.Query("brand")),
	}

	var err error
	if f.Page, err = queryInt(c, "page"); err != nil {
		h.respondError(c, err)
		return
	}
	if f.Limit, err = queryInt(c, "limit"); err != nil {
		h.respondError(c, err)
		return
	}
	if raw := c.Query("max_price"); raw != "" {
		ceiling, err := decimal.NewFromString(raw)
		if err != nil {
			h.respondError(c, fmt.Errorf("invalid max_price: %w", service.ErrBadRequest))
			return
		}
		f.MaxPrice = &ceiling
	}

	products, err := h.catalog.List(c.Request.Context(), f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "count": len(products)})
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %w", name, service.ErrBadRequest)
	}
	return n, nil
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	product, err := h.catalog.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) lowStock(c *gin.Context) {
	threshold, err := queryInt(c, "threshold")
	if err != nil {
		h.respondError(c, err)
		return
	}

	products, err := h.catalog.LowStock(c.Request.Context(), actor(c), threshold)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "count": len(products)})
}

func (h *Handler) createProduct(c *gin.Context) {
	var in service.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	product, err := h.catalog.Create(c.Request.Context(), actor(c), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *Handler) updateProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var in service.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	product, err := h.catalog.Update(c.Request.Context(), actor(c), id, in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) deleteProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.catalog.Delete(c.Request.Context(), actor(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "product deleted", "id": id})
}

func (h *Handler) uploadProductImage(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	upload, closeFn, ok := h.readImage(c)
	if !ok {
		return
	}
	defer closeFn()

	product, err := h.catalog.UploadImage(c.Request.Context(), actor(c), id, upload)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// readImage pulls the "image" multipart field and checks its size and extension
func (h *Handler) readImage(c *gin.Context) (imagestore.Upload, func(), bool) {
	header, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return imagestore.Upload{}, nil, false
	}
	if header.Size > h.maxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("image exceeds %d bytes", h.maxUploadBytes)})
		return imagestore.Upload{}, nil, false
	}
	if !allowedImageTypes[strings.ToLower(path.Ext(header.Filename))] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported image type"})
		return imagestore.Upload{}, nil, false
	}

	file, err := header.Open()
	if err != nil {
		h.respondError(c, err)
		return imagestore.Upload{}, nil, false
	}

	return imagestore.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}, func() { _ = file.Close() }, true
}
