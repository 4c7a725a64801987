package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"
	"github.com/supabase-community/supabase-go"

	"github.com/ShiroSan123/otp-valhalla/internal/identity/domain"
	"github.com/ShiroSan123/otp-valhalla/internal/phone"
)

const (
	// DefaultUsersPerPage is the page size used when scanning GoTrue admin users.
	DefaultUsersPerPage = 200
	// maxUserPages bounds a single scan.
	maxUserPages = 10000
)

// AdminAuth is the subset of the GoTrue admin API the directory needs.
type AdminAuth interface {
	// ListUsersPage returns one page (1-based) of users.
	ListUsersPage(ctx context.Context, page, perPage int) ([]types.User, error)
	AdminCreateUser(req types.AdminCreateUserRequest) (*types.AdminCreateUserResponse, error)
}

// SupabaseDirectory keeps identities in Supabase Auth.
type SupabaseDirectory struct {
	auth    AdminAuth
	perPage int
}

// NewSupabaseDirectory returns a directory over an admin-authorized GoTrue client.
func NewSupabaseDirectory(auth AdminAuth) *SupabaseDirectory {
	return &SupabaseDirectory{auth: auth, perPage: DefaultUsersPerPage}
}

// NewSupabaseAdminAuth builds a GoTrue admin client for url authorized with the service role key.
func NewSupabaseAdminAuth(baseURL, serviceRoleKey string) (AdminAuth, error) {
	client, err := supabase.NewClient(baseURL, serviceRoleKey, nil)
	if err != nil {
		return nil, fmt.Errorf("supabase: %w", err)
	}
	return &adminClient{
		Client:     client.Auth.WithToken(serviceRoleKey),
		authURL:    strings.TrimSuffix(baseURL, "/") + supabase.AUTH_URL,
		key:        serviceRoleKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// adminClient adds paged user listing, which gotrue-go does not expose, to the gotrue client.
type adminClient struct {
	gotrue.Client
	authURL    string
	key        string
	httpClient *http.Client
}

// ListUsersPage calls GET /admin/users?page=N&per_page=M.
func (c *adminClient) ListUsersPage(ctx context.Context, page, perPage int) ([]types.User, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.authURL+"/admin/users?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("response status code %d: %s", resp.StatusCode, body)
	}
	var out types.AdminListUsersResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return out.Users, nil
}

// FindByPhone scans every page of users and matches the account phone or any linked identity's
// phone by digits. The scan ends at the first page shorter than the page size.
func (d *SupabaseDirectory) FindByPhone(ctx context.Context, p string) (*domain.User, error) {
	for page := 1; page <= maxUserPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		users, err := d.auth.ListUsersPage(ctx, page, d.perPage)
		if err != nil {
			return nil, fmt.Errorf("supabase: list users page %d: %w", page, err)
		}
		for i := range users {
			u := &users[i]
			if phone.SameNumber(u.Phone, p) || identityHasPhone(u.Identities, p) {
				return toDomainUser(u), nil
			}
		}
		if len(users) < d.perPage {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("supabase: user scan exceeded %d pages", maxUserPages)
}

// CreateWithPhone creates a confirmed phone user. GoTrue's phone_exists rejection maps to ErrPhoneExists.
func (d *SupabaseDirectory) CreateWithPhone(ctx context.Context, p string) (*domain.User, error) {
	resp, err := d.auth.AdminCreateUser(types.AdminCreateUserRequest{
		Phone:        p,
		PhoneConfirm: true,
	})
	if err != nil {
		if isPhoneConflict(err) {
			return nil, domain.ErrPhoneExists
		}
		return nil, fmt.Errorf("supabase: create user: %w", err)
	}
	return toDomainUser(&resp.User), nil
}

func identityHasPhone(identities []types.Identity, p string) bool {
	for _, id := range identities {
		if v, ok := id.IdentityData["phone"].(string); ok && phone.SameNumber(v, p) {
			return true
		}
	}
	return false
}

func isPhoneConflict(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "phone_exists") ||
		strings.Contains(msg, "already registered") ||
		strings.Contains(msg, "already been registered")
}

func toDomainUser(u *types.User) *domain.User {
	return &domain.User{
		ID:               u.ID.String(),
		Phone:            u.Phone,
		PhoneConfirmedAt: u.PhoneConfirmedAt,
		CreatedAt:        u.CreatedAt,
	}
}
