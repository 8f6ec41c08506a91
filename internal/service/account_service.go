package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/auth"
	"storefront/internal/imagestore"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	resetMailTimeout  = 30 * time.Second
)

var validate = validator.New()

// ResetNotifier mails password reset links
type ResetNotifier interface {
	PasswordReset(ctx context.Context, email, name, link string) error
}

// AccountService handles registration, login and profile management
type AccountService struct {
	users       UserRepository
	carts       CartRepository
	tokens      *auth.TokenManager
	images      imagestore.Store
	notifier    ResetNotifier
	resetURLFmt string
	logger      *zap.Logger
}

// NewAccountService creates a new account service. images and notifier may be nil.
func NewAccountService(
	users UserRepository,
	carts CartRepository,
	tokens *auth.TokenManager,
	images imagestore.Store,
	notifier ResetNotifier,
	resetURLFmt string,
) *AccountService {
	return &AccountService{
		users:       users,
		carts:       carts,
		tokens:      tokens,
		images:      images,
		notifier:    notifier,
		resetURLFmt: resetURLFmt,
		logger:      util.GetLogger(),
	}
}

// RegisterRequest is the sign-up payload
type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Session is returned on register and login
type Session struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Register creates a customer account and its cart
func (s *AccountService) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	ctx, span := util.StartSpan(ctx, "AccountService.Register")
	defer span.End()

	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("name is required: %w", ErrBadRequest)
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(req.Name),
		Role:         models.RoleCustomer,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, translate(err, "register")
	}

	if _, err := s.carts.GetOrCreateCart(ctx, user.ID); err != nil {
		// the cart is created lazily on first access anyway
		s.logger.Warn("Failed to create cart at registration", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	s.logger.Info("User registered", zap.Int64("user_id", user.ID))
	return s.session(user)
}

// Login checks credentials and issues an access token
func (s *AccountService) Login(ctx context.Context, email, password string) (*Session, error) {
	ctx, span := util.StartSpan(ctx, "AccountService.Login")
	defer span.End()

	user, err := s.users.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(translate(err, "user"), ErrNotFound) {
			return nil, fmt.Errorf("invalid credentials: %w", ErrUnauthorized)
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, fmt.Errorf("invalid credentials: %w", ErrUnauthorized)
	}
	return s.session(user)
}

// Profile returns the caller's account
func (s *AccountService) Profile(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, translate(err, "user")
	}
	return user, nil
}

// UpdateProfile changes the caller's display name
func (s *AccountService) UpdateProfile(ctx context.Context, userID int64, name string) (*models.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("name is required: %w", ErrBadRequest)
	}
	if err := s.users.UpdateUserName(ctx, userID, name); err != nil {
		return nil, translate(err, "user")
	}
	return s.Profile(ctx, userID)
}

// UploadAvatar stores a profile image and records its URL
func (s *AccountService) UploadAvatar(ctx context.Context, userID int64, upload imagestore.Upload) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "AccountService.UploadAvatar")
	defer span.End()

	if s.images == nil {
		return nil, fmt.Errorf("image storage is not configured")
	}
	upload.Folder = fmt.Sprintf("avatars/%d", userID)
	url, err := s.images.Put(ctx, upload)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	if err := s.users.UpdateUserAvatar(ctx, userID, url); err != nil {
		return nil, translate(err, "user")
	}
	return s.Profile(ctx, userID)
}

// ForgotPassword mails a short-lived reset link. Unknown emails are not reported
// and the mail itself is sent in the background.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(translate(err, "user"), ErrNotFound) {
			return nil
		}
		return err
	}

	token, err := s.tokens.IssueResetToken(identityOf(user))
	if err != nil {
		return err
	}
	if s.notifier == nil {
		return nil
	}

	link := fmt.Sprintf(s.resetURLFmt, token)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), resetMailTimeout)
		defer cancel()
		if err := s.notifier.PasswordReset(ctx, user.Email, user.Name, link); err != nil {
			s.logger.Error("Failed to send password reset mail", zap.Int64("user_id", user.ID), zap.Error(err))
		}
	}()
	return nil
}

// ResetPassword sets a new password using a reset token
func (s *AccountService) ResetPassword(ctx context.Context, token, password string) error {
	id, err := s.tokens.VerifyResetToken(token)
	if err != nil {
		return fmt.Errorf("reset token: %w", ErrUnauthorized)
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	if err := s.users.UpdateUserPassword(ctx, id.UserID, hash); err != nil {
		return translate(err, "user")
	}
	s.logger.Info("Password reset", zap.Int64("user_id", id.UserID))
	return nil
}

func (s *AccountService) session(user *models.User) (*Session, error) {
	token, err := s.tokens.IssueAccessToken(identityOf(user))
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: user}, nil
}

func identityOf(u *models.User) auth.Identity {
	return auth.Identity{UserID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

func normalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if err := validate.Var(email, "required,email"); err != nil {
		return "", fmt.Errorf("invalid email: %w", ErrBadRequest)
	}
	return strings.ToLower(email), nil
}

func hashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters: %w", minPasswordLength, ErrBadRequest)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
