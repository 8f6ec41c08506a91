package service

import (
	"context"
	"fmt"
	"strings"

	"storefront/internal/imagestore"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxPageSize = 100

// CatalogService handles product reads and admin product management
type CatalogService struct {
	products        ProductRepository
	cache           ProductCache
	images          imagestore.Store
	defaultPageSize int
	lowStock        int
	logger          *zap.Logger
}

// NewCatalogService creates a new catalog service. cache and images may be nil.
func NewCatalogService(products ProductRepository, cache ProductCache, images imagestore.Store, defaultPageSize, lowStock int) *CatalogService {
	if defaultPageSize <= 0 {
		defaultPageSize = 20
	}
	return &CatalogService{
		products:        products,
		cache:           cache,
		images:          images,
		defaultPageSize: defaultPageSize,
		lowStock:        lowStock,
		logger:          util.GetLogger(),
	}
}

// ProductInput is the editable part of a product
type ProductInput struct {
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	StockCount  int             `json:"stock_count"`
	Category    string          `json:"category"`
	Brand       string          `json:"brand"`
	ImageURL    string          `json:"image_url"`
}

func (in ProductInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("name is required: %w", ErrBadRequest)
	}
	if in.Price.IsNegative() {
		return fmt.Errorf("price must be >= 0: %w", ErrBadRequest)
	}
	if in.StockCount < 0 {
		return fmt.Errorf("stock_count must be >= 0: %w", ErrBadRequest)
	}
	return nil
}

// List returns one page of products, newest first
func (s *CatalogService) List(ctx context.Context, f models.ProductFilter) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.List")
	defer span.End()

	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = s.defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.MaxPrice != nil && f.MaxPrice.IsNegative() {
		return nil, fmt.Errorf("max_price must be >= 0: %w", ErrBadRequest)
	}

	products, err := s.products.ListProducts(ctx, f)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// Get returns a single product, served from cache when possible
func (s *CatalogService) Get(ctx context.Context, id int64) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Get", attribute.Int64("product_id", id))
	defer span.End()

	if s.cache != nil {
		cached, err := s.cache.GetProduct(ctx, id)
		if err != nil {
			s.logger.Warn("Product cache read failed", zap.Int64("product_id", id), zap.Error(err))
		}
		if cached != nil {
			util.ProductCacheTotal.WithLabelValues("hit").Inc()
			return cached, nil
		}
		util.ProductCacheTotal.WithLabelValues("miss").Inc()
	}

	product, err := s.products.GetProductByID(ctx, id)
	if err != nil {
		return nil, translate(err, "get product")
	}

	if s.cache != nil {
		if err := s.cache.SetProduct(ctx, product); err != nil {
			s.logger.Warn("Product cache write failed", zap.Int64("product_id", id), zap.Error(err))
		}
	}
	return product, nil
}

// Create adds a product (admin only)
func (s *CatalogService) Create(ctx context.Context, actor Actor, in ProductInput) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Create")
	defer span.End()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	p := &models.Product{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Price:       in.Price,
		StockCount:  in.StockCount,
		Category:    in.Category,
		Brand:       in.Brand,
		ImageURL:    in.ImageURL,
	}
	if err := s.products.CreateProduct(ctx, p); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("Product created", zap.Int64("product_id", p.ID), zap.Int64("by", actor.UserID))
	return p, nil
}

// Update replaces the editable fields of a product (admin only)
func (s *CatalogService) Update(ctx context.Context, actor Actor, id int64, in ProductInput) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Update", attribute.Int64("product_id", id))
	defer span.End()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	p := &models.Product{
		ID:          id,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Price:       in.Price,
		StockCount:  in.StockCount,
		Category:    in.Category,
		Brand:       in.Brand,
	}
	if err := s.products.UpdateProduct(ctx, p); err != nil {
		return nil, translate(err, "update product")
	}
	s.invalidate(ctx, id)

	return p, nil
}

// Delete removes a product and every cart and order line referencing it (admin only)
func (s *CatalogService) Delete(ctx context.Context, actor Actor, id int64) error {
	ctx, span := util.StartSpan(ctx, "CatalogService.Delete", attribute.Int64("product_id", id))
	defer span.End()

	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := s.products.DeleteProduct(ctx, id); err != nil {
		return translate(err, "delete product")
	}
	s.invalidate(ctx, id)

	s.logger.Info("Product deleted", zap.Int64("product_id", id), zap.Int64("by", actor.UserID))
	return nil
}

// LowStock lists products at or below threshold (admin only). A non-positive threshold uses the configured default.
func (s *CatalogService) LowStock(ctx context.Context, actor Actor, threshold int) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.LowStock")
	defer span.End()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if threshold <= 0 {
		threshold = s.lowStock
	}
	return s.products.ListLowStockProducts(ctx, threshold)
}

// UploadImage stores a product image and records its URL (admin only)
func (s *CatalogService) UploadImage(ctx context.Context, actor Actor, id int64, upload imagestore.Upload) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.UploadImage", attribute.Int64("product_id", id))
	defer span.End()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if s.images == nil {
		return nil, fmt.Errorf("image storage is not configured")
	}
	if _, err := s.products.GetProductByID(ctx, id); err != nil {
		return nil, translate(err, "get product")
	}

	upload.Folder = fmt.Sprintf("products/%d", id)
	url, err := s.images.Put(ctx, upload)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	if err := s.products.UpdateProductImage(ctx, id, url); err != nil {
		return nil, translate(err, "update product image")
	}
	s.invalidate(ctx, id)

	return s.products.GetProductByID(ctx, id)
}

func (s *CatalogService) invalidate(ctx context.Context, ids ...int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateProducts(ctx, ids...); err != nil {
		s.logger.Warn("Product cache invalidation failed", zap.Int64s("product_ids", ids), zap.Error(err))
	}
}
