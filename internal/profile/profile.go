// Package profile manages user profiles, their uploaded files and mentor
// discovery.
package profile

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"mentorship/internal/apperr"
	"mentorship/internal/auth"
	"mentorship/internal/backend"
)

// Profile is the full profile of one user.
type Profile struct {
	ID             string     `json:"id"`
	UserType       string     `json:"user_type"`
	Email          string     `json:"email"`
	FullName       string     `json:"full_name"`
	Contact        string     `json:"contact"`
	State          string     `json:"state"`
	Nationality    string     `json:"nationality"`
	Qualifications string     `json:"qualifications"`
	Experience     string     `json:"experience"`
	Expertise      string     `json:"expertise"`
	Institution    string     `json:"institution"`
	Goals          string     `json:"goals"`
	LinkedIn       string     `json:"linkedin"`
	ProfileImage   string     `json:"profile_image,omitempty"`
	Credentials    []string   `json:"credentials,omitempty"`
	Rating         float64    `json:"rating"`
	DoubtsSolved   int64      `json:"doubts_solved"`
	Online         bool       `json:"online"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// Summary is the display subset embedded in connection lists and mentor cards.
type Summary struct {
	ID           string  `json:"id"`
	FullName     string  `json:"full_name"`
	ProfileImage string  `json:"profile_image,omitempty"`
	Expertise    string  `json:"expertise"`
	Rating       float64 `json:"rating"`
	DoubtsSolved int64   `json:"doubts_solved"`
	Online       bool    `json:"online"`
}

// SummaryColumns are the profile columns a Summary is built from.
var SummaryColumns = []string{"id", "full_name", "profile_image", "expertise", "rating", "doubts_solved", "online"}

// Input carries the editable profile fields.
type Input struct {
	FullName       string `json:"full_name" binding:"required,max=120"`
	Contact        string `json:"contact" binding:"max=40"`
	State          string `json:"state" binding:"max=80"`
	Nationality    string `json:"nationality" binding:"max=80"`
	Qualifications string `json:"qualifications" binding:"max=500"`
	Experience     string `json:"experience" binding:"max=500"`
	Expertise      string `json:"expertise" binding:"max=500"`
	Institution    string `json:"institution" binding:"max=200"`
	Goals          string `json:"goals" binding:"max=1000"`
	LinkedIn       string `json:"linkedin" binding:"omitempty,url"`
}

// Service reads and writes profiles.
type Service struct {
	store   backend.Store
	objects backend.ObjectStore
	cache   *cache.Cache
	log     *zap.Logger
}

// NewService creates a profile service. Leaderboards are cached for ttl.
func NewService(store backend.Store, objects backend.ObjectStore, ttl time.Duration, log *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:   store,
		objects: objects,
		cache:   cache.New(ttl, 2*ttl),
		log:     log,
	}
}

// CreateSkeleton inserts the empty profile created alongside a new account.
func (s *Service) CreateSkeleton(ctx context.Context, id auth.Identity, fullName string) error {
	_, err := s.store.Insert(ctx, backend.TableProfiles, backend.Record{
		"id":        id.UserID,
		"user_type": string(id.Role),
		"email":     id.Email,
		"full_name": fullName,
	})
	return err
}

// Complete stores the caller's profile fields.
func (s *Service) Complete(ctx context.Context, in Input) (Profile, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return Profile{}, err
	}
	if strings.TrimSpace(in.FullName) == "" {
		return Profile{}, apperr.Invalid("full_name is required")
	}
	patch := backend.Record{
		"full_name":      strings.TrimSpace(in.FullName),
		"contact":        in.Contact,
		"state":          in.State,
		"nationality":    in.Nationality,
		"qualifications": in.Qualifications,
		"experience":     in.Experience,
		"expertise":      in.Expertise,
		"institution":    in.Institution,
		"goals":          in.Goals,
		"linkedin":       in.LinkedIn,
		"updated_at":     time.Now().UTC(),
	}
	if err := s.upsert(ctx, id, patch); err != nil {
		return Profile{}, err
	}
	s.cache.Flush()
	return s.Get(ctx, id.UserID)
}

func (s *Service) upsert(ctx context.Context, id auth.Identity, patch backend.Record) error {
	n, err := s.store.Update(ctx, backend.TableProfiles, []backend.Filter{backend.Eq("id", id.UserID)}, patch)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	rec := patch.Clone()
	rec["id"] = id.UserID
	rec["user_type"] = string(id.Role)
	rec["email"] = id.Email
	_, err = s.store.Insert(ctx, backend.TableProfiles, rec)
	return err
}

// UploadImage stores the caller's profile picture and returns its public URL.
func (s *Service) UploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", apperr.Invalid("image is empty")
	}
	ext := path.Ext(filename)
	if ext == "" {
		ext = ".jpg"
	}
	stored, err := s.objects.UploadObject(ctx, backend.BucketProfileImages, id.UserID+"/profile"+ext, data)
	if err != nil {
		return "", apperr.Backend(err)
	}
	if err := s.upsert(ctx, id, backend.Record{"profile_image": stored, "updated_at": time.Now().UTC()}); err != nil {
		return "", err
	}
	s.cache.Flush()
	return s.objects.PublicURL(backend.BucketProfileImages, stored), nil
}

// UploadCredential stores a mentor's credential document and returns its public URL.
func (s *Service) UploadCredential(ctx context.Context, filename string, data []byte) (string, error) {
	id, err := auth.Require(ctx)
	if err != nil {
		return "", err
	}
	if id.Role != auth.RoleMentor {
		return "", fmt.Errorf("%w: only mentors upload credentials", apperr.ErrForbidden)
	}
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	if len(data) == 0 || name == "." || name == "/" {
		return "", apperr.Invalid("credential file is required")
	}
	stored, err := s.objects.UploadObject(ctx, backend.BucketCredentials, id.UserID+"/"+name, data)
	if err != nil {
		return "", apperr.Backend(err)
	}

	current, err := s.store.Get(ctx, backend.TableProfiles, backend.Query{
		Columns: []string{"credentials"},
		Filters: []backend.Filter{backend.Eq("id", id.UserID)},
	})
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return "", err
	}
	creds := current.Strings("credentials")
	found := false
	for _, c := range creds {
		if c == stored {
			found = true
			break
		}
	}
	if !found {
		creds = append(creds, stored)
	}
	if err := s.upsert(ctx, id, backend.Record{"credentials": creds, "updated_at": time.Now().UTC()}); err != nil {
		return "", err
	}
	return s.objects.PublicURL(backend.BucketCredentials, stored), nil
}

// Get returns one profile with file paths resolved to public URLs.
func (s *Service) Get(ctx context.Context, userID string) (Profile, error) {
	rec, err := s.store.Get(ctx, backend.TableProfiles, backend.Query{
		Filters: []backend.Filter{backend.Eq("id", userID)},
	})
	if err != nil {
		return Profile{}, err
	}
	return s.fromRecord(rec), nil
}

// ListMentors returns mentors whose name or expertise contains search, by name.
func (s *Service) ListMentors(ctx context.Context, search string) ([]Summary, error) {
	filters := []backend.Filter{backend.Eq("user_type", string(auth.RoleMentor))}
	if q := strings.TrimSpace(search); q != "" {
		filters = append(filters, backend.Or(backend.ILike("full_name", q), backend.ILike("expertise", q)))
	}
	rows, err := s.store.Query(ctx, backend.TableProfiles, backend.Query{
		Columns: SummaryColumns,
		Filters: filters,
		Order:   []backend.Order{backend.Asc("full_name")},
	})
	if err != nil {
		return nil, err
	}
	return s.summaries(rows), nil
}

// Leaderboard returns the top rated mentors. Results are cached briefly.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 || limit > 100 {
		limit = 3
	}
	key := "leaderboard:" + strconv.Itoa(limit)
	if cached, ok := s.cache.Get(key); ok {
		return cached.([]Summary), nil
	}
	rows, err := s.store.Query(ctx, backend.TableProfiles, backend.Query{
		Columns: SummaryColumns,
		Filters: []backend.Filter{backend.Eq("user_type", string(auth.RoleMentor))},
		Order:   []backend.Order{backend.Desc("rating"), backend.Desc("doubts_solved")},
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	out := s.summaries(rows)
	s.cache.SetDefault(key, out)
	return out, nil
}

// SetOnline records presence for a user.
func (s *Service) SetOnline(ctx context.Context, userID string, online bool) error {
	_, err := s.store.Update(ctx, backend.TableProfiles, []backend.Filter{backend.Eq("id", userID)}, backend.Record{"online": online})
	if err != nil {
		s.log.Warn("presence update failed", zap.String("user_id", userID), zap.Bool("online", online), zap.Error(err))
	}
	return err
}

// Summarize builds a display summary from a profile row or joined record.
func (s *Service) Summarize(rec backend.Record) *Summary {
	if rec == nil {
		return nil
	}
	return &Summary{
		ID:           rec.String("id"),
		FullName:     rec.String("full_name"),
		ProfileImage: s.resolve(backend.BucketProfileImages, rec.String("profile_image")),
		Expertise:    rec.String("expertise"),
		Rating:       rec.Float("rating"),
		DoubtsSolved: rec.Int("doubts_solved"),
		Online:       rec.Bool("online"),
	}
}

func (s *Service) summaries(rows []backend.Record) []Summary {
	out := make([]Summary, 0, len(rows))
	for _, row := range rows {
		out = append(out, *s.Summarize(row))
	}
	return out
}

func (s *Service) fromRecord(rec backend.Record) Profile {
	creds := rec.Strings("credentials")
	urls := make([]string, 0, len(creds))
	for _, c := range creds {
		urls = append(urls, s.resolve(backend.BucketCredentials, c))
	}
	return Profile{
		ID:             rec.String("id"),
		UserType:       rec.String("user_type"),
		Email:          rec.String("email"),
		FullName:       rec.String("full_name"),
		Contact:        rec.String("contact"),
		State:          rec.String("state"),
		Nationality:    rec.String("nationality"),
		Qualifications: rec.String("qualifications"),
		Experience:     rec.String("experience"),
		Expertise:      rec.String("expertise"),
		Institution:    rec.String("institution"),
		Goals:          rec.String("goals"),
		LinkedIn:       rec.String("linkedin"),
		ProfileImage:   s.resolve(backend.BucketProfileImages, rec.String("profile_image")),
		Credentials:    urls,
		Rating:         rec.Float("rating"),
		DoubtsSolved:   rec.Int("doubts_solved"),
		Online:         rec.Bool("online"),
		CreatedAt:      rec.Time("created_at"),
		UpdatedAt:      rec.TimePtr("updated_at"),
	}
}

// resolve turns a stored object path into a public URL. Absolute URLs pass through.
func (s *Service) resolve(bucket, stored string) string {
	if stored == "" || strings.HasPrefix(stored, "http://") || strings.HasPrefix(stored, "https://") {
		return stored
	}
	return s.objects.PublicURL(bucket, stored)
}
