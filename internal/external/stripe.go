package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"briefhub/internal/config"
	"briefhub/internal/types"

	stripe "github.com/stripe/stripe-go/v82"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// AccountBillingLookup provides the minimal data access needed by
// StripeClient to resolve an account into its Stripe customer ID and
// billing email. This avoids pulling in the full AccountRepository.
type AccountBillingLookup interface {
	// GetBillingInfo returns the stripe_customer_id and billing_email for
	// the given account. Returns ("", email, nil) if the account exists
	// but has no stripe_customer_id yet. Returns an error if the account
	// does not exist.
	GetBillingInfo(ctx context.Context, accountID string) (stripeCustomerID string, billingEmail string, err error)

	// SetStripeCustomerID records the provider customer ID for the account.
	SetStripeCustomerID(ctx context.Context, accountID string, customerID string) error
}

// PriceMap translates between Stripe Price IDs and plan tiers. Built from
// configuration at startup; starter has no price because it is the implicit
// free tier.
type PriceMap struct {
	planToPrice map[types.PlanTier]string
	priceToPlan map[string]types.PlanTier
}

// NewPriceMap builds the bidirectional mapping from billing configuration.
func NewPriceMap(cfg config.BillingConfig) *PriceMap {
	planToPrice := map[types.PlanTier]string{
		types.PlanPro:    cfg.PriceIDPro,
		types.PlanAgency: cfg.PriceIDAgency,
	}
	priceToPlan := make(map[string]types.PlanTier, len(planToPrice))
	for plan, price := range planToPrice {
		priceToPlan[price] = plan
	}
	return &PriceMap{planToPrice: planToPrice, priceToPlan: priceToPlan}
}

// PriceFor returns the Stripe Price ID for a paid plan tier. Returns false
// for starter and unknown tiers, which have no price.
func (m *PriceMap) PriceFor(plan types.PlanTier) (string, bool) {
	price, ok := m.planToPrice[plan]
	return price, ok
}

// PlanFor returns the plan tier for a Stripe Price ID. Unknown price IDs
// resolve to starter so a misconfigured price can never grant more than
// the free tier.
func (m *PriceMap) PlanFor(priceID string) types.PlanTier {
	if plan, ok := m.priceToPlan[priceID]; ok {
		return plan
	}
	return types.PlanStarter
}

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to stripeAPIBase

	// AppBaseURL is the frontend origin used to build checkout redirect
	// and portal return URLs server-side.
	AppBaseURL string

	Prices *PriceMap
	Logger *slog.Logger
}

// StripeClient implements BillingService by making direct HTTP calls to the
// Stripe REST API through BaseClient. This approach routes all requests
// through the platform's resilience infrastructure (circuit breaker, retries,
// error mapping) and makes testing with httptest straightforward.
type StripeClient struct {
	base       *BaseClient
	secretKey  string
	baseURL    string
	appBaseURL string
	prices     *PriceMap
	accounts   AccountBillingLookup
	logger     *slog.Logger
}

var _ BillingService = (*StripeClient)(nil)

// NewStripeClient creates a new StripeClient. The httpClient timeout should
// be set to 20 seconds.
func NewStripeClient(
	httpClient *http.Client,
	accounts AccountBillingLookup,
	cfg StripeClientConfig,
) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"BriefHub/1.0",
		WithSleepFunc(time.Sleep),
	)
	return newStripeClient(base, accounts, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// BaseClient configuration.
func NewStripeClientWithBase(
	base *BaseClient,
	accounts AccountBillingLookup,
	cfg StripeClientConfig,
) *StripeClient {
	return newStripeClient(base, accounts, cfg)
}

func newStripeClient(base *BaseClient, accounts AccountBillingLookup, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:       base,
		secretKey:  cfg.SecretKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		appBaseURL: strings.TrimSuffix(cfg.AppBaseURL, "/"),
		prices:     cfg.Prices,
		accounts:   accounts,
		logger:     logger,
	}
}

// ---------------------------------------------------------------------------
// BillingService Implementation
// ---------------------------------------------------------------------------

// EnsureCustomer retrieves or creates a Stripe customer for the account.
// Uses search-first logic to prevent duplicates:
//  1. Query the Stripe Search API for a metadata['account_id'] match.
//  2. If not found, list customers by billing email and adopt a match.
//  3. If still not found, create a new customer with account_id metadata.
//  4. Record the customer ID locally so later calls skip the search.
func (s *StripeClient) EnsureCustomer(ctx context.Context, accountID string, email string) (string, error) {
	// Step 1: Search for existing customer by account_id metadata.
	searchQuery := fmt.Sprintf("metadata['account_id']:'%s'", accountID)
	params := url.Values{}
	params.Set("query", searchQuery)

	searchResp, err := s.doGet(ctx, "/v1/customers/search", params)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.search", err)
	}
	defer searchResp.Body.Close()

	if searchResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(searchResp, "EnsureCustomer.search")
	}

	var searchResult stripeSearchResult
	if err := json.NewDecoder(searchResp.Body).Decode(&searchResult); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer search response",
			err,
		)
	}

	if len(searchResult.Data) > 0 {
		customerID := searchResult.Data[0].ID
		s.recordCustomerID(ctx, accountID, customerID)
		return customerID, nil
	}

	// Step 2: Fall back to a lookup by billing email. Covers customers
	// created before account_id metadata was introduced.
	if email != "" {
		listParams := url.Values{}
		listParams.Set("email", email)
		listParams.Set("limit", "1")

		listResp, err := s.doGet(ctx, "/v1/customers", listParams)
		if err != nil {
			return "", s.wrapStripeError("EnsureCustomer.listByEmail", err)
		}
		defer listResp.Body.Close()

		if listResp.StatusCode != http.StatusOK {
			return "", s.handleErrorResponse(listResp, "EnsureCustomer.listByEmail")
		}

		var listResult stripeSearchResult
		if err := json.NewDecoder(listResp.Body).Decode(&listResult); err != nil {
			return "", types.NewAppError(
				types.ErrCodeInternalUnexpected,
				"failed to decode Stripe customer list response",
				err,
			)
		}

		if len(listResult.Data) > 0 {
			customerID := listResult.Data[0].ID
			s.recordCustomerID(ctx, accountID, customerID)
			return customerID, nil
		}
	}

	// Step 3: Create new customer.
	createParams := url.Values{}
	createParams.Set("email", email)
	createParams.Set("metadata[account_id]", accountID)

	createResp, err := s.doPost(ctx, "/v1/customers", createParams)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.create", err)
	}
	defer createResp.Body.Close()

	if createResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(createResp, "EnsureCustomer.create")
	}

	var customer stripeCustomer
	if err := json.NewDecoder(createResp.Body).Decode(&customer); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer creation response",
			err,
		)
	}

	s.recordCustomerID(ctx, accountID, customer.ID)
	return customer.ID, nil
}

// recordCustomerID persists the customer ID locally. Failure is logged but
// not fatal; the next call simply searches again.
func (s *StripeClient) recordCustomerID(ctx context.Context, accountID string, customerID string) {
	if err := s.accounts.SetStripeCustomerID(ctx, accountID, customerID); err != nil {
		s.logger.WarnContext(ctx, "failed to record stripe_customer_id",
			"account_id", accountID,
			"customer_id", customerID,
			"error", err,
		)
	}
}

// CreateCheckoutSession generates a Stripe Checkout Session for the given
// paid plan. Redirect URLs are built server-side from AppBaseURL so a
// client can never steer the post-payment redirect. The account identity
// travels in client_reference_id and metadata for webhook correlation.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, accountID string, plan types.PlanTier) (*types.CheckoutSession, error) {
	priceID, ok := s.prices.PriceFor(plan)
	if !ok {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidPlan,
			fmt.Sprintf("plan %q has no checkout price", plan),
			nil,
		)
	}

	customerID, err := s.resolveCustomer(ctx, accountID)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("mode", "subscription")
	params.Set("client_reference_id", accountID)
	params.Set("success_url", s.appBaseURL+"/billing/success?session_id={CHECKOUT_SESSION_ID}")
	params.Set("cancel_url", s.appBaseURL+"/billing/canceled")
	params.Set("metadata[account_id]", accountID)
	params.Set("metadata[plan]", string(plan))
	params.Set("subscription_data[metadata][account_id]", accountID)
	params.Set("subscription_data[metadata][plan]", string(plan))
	params.Set("line_items[0][price]", priceID)
	params.Set("line_items[0][quantity]", "1")

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return nil, s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response",
			err,
		)
	}

	return &types.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// CreatePortalSession generates a Stripe Billing Portal URL for the
// account's existing customer.
func (s *StripeClient) CreatePortalSession(ctx context.Context, accountID string) (*types.PortalSession, error) {
	customerID, err := s.resolveCustomer(ctx, accountID)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("return_url", s.appBaseURL+"/settings/billing")

	resp, err := s.doPost(ctx, "/v1/billing_portal/sessions", params)
	if err != nil {
		return nil, s.wrapStripeError("CreatePortalSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "CreatePortalSession")
	}

	var session stripePortalSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe portal session response",
			err,
		)
	}

	return &types.PortalSession{URL: session.URL}, nil
}

// resolveCustomer returns the account's Stripe customer ID, creating the
// customer lazily through EnsureCustomer when none is stored yet.
func (s *StripeClient) resolveCustomer(ctx context.Context, accountID string) (string, error) {
	customerID, email, err := s.accounts.GetBillingInfo(ctx, accountID)
	if err != nil {
		return "", err
	}
	if customerID != "" {
		return customerID, nil
	}
	return s.EnsureCustomer(ctx, accountID, email)
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

// doGet performs an authenticated GET request to the Stripe API.
func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// doPost performs an authenticated POST request to the Stripe API with
// form-encoded body.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	body := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// setAuthHeaders sets the Stripe API authentication and version headers.
func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

// stripeErrorResponse represents the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

// handleErrorResponse reads a Stripe error response and maps it to a types.AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamBilling,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamBilling,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	return s.mapStripeError(operation, resp.StatusCode, &stripeErr.Error)
}

// mapStripeError translates a Stripe error into a types.AppError.
func (s *StripeClient) mapStripeError(operation string, statusCode int, stripeErr *stripeErrorBody) error {
	if stripeErr.Code == "card_declined" || stripeErr.DeclineCode != "" {
		return types.NewAppErrorWithDetails(
			types.ErrCodePaymentDeclined,
			fmt.Sprintf("%s: payment declined: %s", operation, stripeErr.Message),
			nil,
			map[string]any{
				"decline_code": stripeErr.DeclineCode,
				"stripe_code":  stripeErr.Code,
			},
		)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimit,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
		)
	case statusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamDown,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Message),
			nil,
		)
	case statusCode == http.StatusNotFound:
		return types.NewAppError(
			types.ErrCodeNotFoundAccount,
			fmt.Sprintf("%s: Stripe resource not found: %s", operation, stripeErr.Message),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamBilling,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, statusCode, stripeErr.Message),
			nil,
		)
	}
}

// wrapStripeError wraps a BaseClient transport error with context.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	// AppErrors from BaseClient (circuit breaker, retries exhausted)
	// already carry the right upstream code.
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamBilling,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// ---------------------------------------------------------------------------
// Stripe Response Types (for JSON deserialization)
// ---------------------------------------------------------------------------

type stripeCustomer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata"`
}

type stripeSearchResult struct {
	Data    []stripeCustomer `json:"data"`
	HasMore bool             `json:"has_more"`
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripePortalSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
