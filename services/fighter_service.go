// services/fighter_service.go
package services

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"

	"fight-arena/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type FighterService struct {
	DB *gorm.DB
}

func NewFighterService(db *gorm.DB) *FighterService {
	return &FighterService{DB: db}
}

type RegisterFighterRequest struct {
	ExternalID string  `json:"external_id"`
	Name       string  `json:"name"`
	APIKey     string  `json:"api_key"`
	WebhookURL *string `json:"webhook_url,omitempty"`
}

// UpsertFighters mirrors registry rows keyed on external_id. The combat record
// columns belong to this service and are never overwritten.
func (s *FighterService) UpsertFighters(ctx context.Context, fighters []models.Fighter) error {
	if len(fighters) == 0 {
		return nil
	}
	for i := range fighters {
		if fighters[i].ID == "" {
			fighters[i].ID = uuid.NewString()
		}
		fighters[i].Name = normalizeName(fighters[i].Name)
	}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "api_key_hash", "webhook_url", "is_active", "updated_at"}),
	}).Create(&fighters).Error
}

// normalizeName puts display names in NFC so visually equal names compare equal.
func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// RegisterFighter stores a fighter with a bcrypt hash of its API key.
func (s *FighterService) RegisterFighter(ctx context.Context, req RegisterFighterRequest) (*models.Fighter, error) {
	req.ExternalID = strings.TrimSpace(req.ExternalID)
	req.Name = strings.TrimSpace(req.Name)
	if req.ExternalID == "" || req.APIKey == "" {
		return nil, &ValidationError{Hint: "external_id and api_key are required"}
	}
	if len(req.APIKey) > 72 {
		return nil, &ValidationError{Hint: "api_key must be at most 72 bytes"}
	}
	if req.Name == "" {
		req.Name = req.ExternalID
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.APIKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, storageErr("hash api key", err)
	}
	f := models.Fighter{
		ExternalID: req.ExternalID,
		Name:       req.Name,
		APIKeyHash: string(hash),
		WebhookURL: req.WebhookURL,
		IsActive:   true,
	}
	if err := s.UpsertFighters(ctx, []models.Fighter{f}); err != nil {
		return nil, storageErr("register fighter", err)
	}
	return s.GetFighter(ctx, req.ExternalID)
}

func (s *FighterService) GetFighter(ctx context.Context, externalID string) (*models.Fighter, error) {
	var f models.Fighter
	if err := s.DB.WithContext(ctx).Where("external_id = ?", externalID).First(&f).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{What: "fighter", ID: externalID}
		}
		return nil, storageErr("load fighter", err)
	}
	return &f, nil
}

// POST /admin/fighters
func (s *FighterService) RegisterFighterHandler(c *fiber.Ctx) error {
	var req RegisterFighterRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, &ValidationError{Hint: "invalid JSON body"})
	}
	f, err := s.RegisterFighter(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	log.Printf("🆕 [Fighter] Registered %s (%s)", f.ExternalID, f.Name)
	return c.Status(fiber.StatusCreated).JSON(f)
}

// GET /fighters/:id
func (s *FighterService) GetFighterHandler(c *fiber.Ctx) error {
	f, err := s.GetFighter(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(f)
}

// GET /fighters?q=&limit=
func (s *FighterService) SearchFighters(c *fiber.Ctx) error {
	query := c.Query("q", "")
	limit, err := strconv.Atoi(c.Query("limit", "50"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 50
	}

	db := s.DB.WithContext(c.UserContext()).Model(&models.Fighter{}).
		Where("is_active = ?", true).
		Order("wins DESC").
		Limit(limit)
	if query != "" {
		term := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
		db = db.Where("LOWER(name) LIKE ? OR LOWER(external_id) LIKE ?", term, term)
	}

	var fighters []models.Fighter
	if err := db.Find(&fighters).Error; err != nil {
		return respondError(c, storageErr("search fighters", err))
	}
	return c.JSON(fighters)
}
