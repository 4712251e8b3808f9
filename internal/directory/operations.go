package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-ops/internal/masking"
)

// ResultStatus tags the outcome of a facade operation.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailure ResultStatus = "failure"
	ResultManual  ResultStatus = "manual_execution_required"
)

// OperationResult is what a mutating directory operation reports.
type OperationResult struct {
	Status  ResultStatus   `json:"status"`
	Message string         `json:"message"`
	NoOp    bool           `json:"no_op,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	// Secret carries a generated credential back to the operator. It is never serialized.
	Secret string `json:"-"`
}

// User is the subset of a directory user the helpdesk shows.
type User struct {
	ID                string `json:"id"`
	UserPrincipalName string `json:"userPrincipalName"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail,omitempty"`
	JobTitle          string `json:"jobTitle,omitempty"`
	Department        string `json:"department,omitempty"`
	AccountEnabled    *bool  `json:"accountEnabled,omitempty"`
}

// AssignedLicense is one license on a user.
type AssignedLicense struct {
	SkuID         string   `json:"skuId"`
	DisabledPlans []string `json:"disabledPlans,omitempty"`
}

// LicenseInventory summarizes one subscribed SKU.
type LicenseInventory struct {
	SkuID         string `json:"sku_id"`
	SkuPartNumber string `json:"sku_part_number"`
	Enabled       int    `json:"enabled"`
	Consumed      int    `json:"consumed"`
	Available     int    `json:"available"`
}

// AuthMethod is one registered authentication method.
type AuthMethod struct {
	ID   string `json:"id"`
	Type string `json:"@odata.type"`
}

// API is the request surface Operations composes.
type API interface {
	Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error)
	Post(ctx context.Context, path string, body any) (json.RawMessage, error)
	Patch(ctx context.Context, path string, body any) (json.RawMessage, error)
	Delete(ctx context.Context, path string) (json.RawMessage, error)
	Paginate(ctx context.Context, path string, query url.Values) ([]json.RawMessage, error)
	BaseURL() string
}

// Operations exposes validated, single-purpose directory actions.
type Operations struct {
	api    API
	logger *zap.Logger
}

// NewOperations builds the facade over api.
func NewOperations(api API, logger *zap.Logger) *Operations {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Operations{api: api, logger: logger}
}

// AssignLicense grants sku to principal unless the user already holds it.
func (o *Operations) AssignLicense(ctx context.Context, principal, sku, comment string) (*OperationResult, error) {
	if err := requireFields(map[string]string{"user_id": principal, "sku_id": sku}); err != nil {
		return nil, err
	}
	current, err := o.UserLicenses(ctx, principal)
	if err != nil {
		return nil, err
	}
	for _, lic := range current {
		if strings.EqualFold(lic.SkuID, sku) {
			o.logger.Info("license already assigned",
				zap.String("user", masking.Mask(principal)), zap.String("sku_id", sku))
			return &OperationResult{
				Status:  ResultSuccess,
				Message: "license already assigned",
				NoOp:    true,
				Data:    map[string]any{"user_id": principal, "sku_id": sku},
			}, nil
		}
	}

	body := map[string]any{
		"addLicenses":    []map[string]any{{"skuId": sku, "disabledPlans": []string{}}},
		"removeLicenses": []string{},
	}
	raw, err := o.api.Post(ctx, userPath(principal, "assignLicense"), body)
	if err != nil {
		return nil, err
	}
	o.logger.Info("license assigned",
		zap.String("user", masking.Mask(principal)), zap.String("sku_id", sku), zap.String("comment", masking.Preview(comment, 80)))
	return &OperationResult{
		Status:  ResultSuccess,
		Message: "license assigned",
		Data:    map[string]any{"user_id": principal, "sku_id": sku, "response": decodeLoose(raw)},
	}, nil
}

// RemoveLicense revokes sku from principal.
func (o *Operations) RemoveLicense(ctx context.Context, principal, sku, comment string) (*OperationResult, error) {
	if err := requireFields(map[string]string{"user_id": principal, "sku_id": sku}); err != nil {
		return nil, err
	}
	body := map[string]any{
		"addLicenses":    []map[string]any{},
		"removeLicenses": []string{sku},
	}
	raw, err := o.api.Post(ctx, userPath(principal, "assignLicense"), body)
	if err != nil {
		return nil, err
	}
	o.logger.Info("license removed",
		zap.String("user", masking.Mask(principal)), zap.String("sku_id", sku), zap.String("comment", masking.Preview(comment, 80)))
	return &OperationResult{
		Status:  ResultSuccess,
		Message: "license removed",
		Data:    map[string]any{"user_id": principal, "sku_id": sku, "response": decodeLoose(raw)},
	}, nil
}

// ResetPassword sets password (or a generated one when empty) and forces a
// change at next sign-in when forceChange is set.
func (o *Operations) ResetPassword(ctx context.Context, principal, password string, forceChange bool, comment string) (*OperationResult, error) {
	if err := requireFields(map[string]string{"user_id": principal}); err != nil {
		return nil, err
	}
	generated := false
	if password == "" {
		var err error
		password, err = GenerateTemporaryPassword(defaultPasswordLength)
		if err != nil {
			return nil, fmt.Errorf("generate temporary password: %w", err)
		}
		generated = true
	}
	body := map[string]any{
		"passwordProfile": map[string]any{
			"forceChangePasswordNextSignIn": forceChange,
			"password":                      password,
		},
	}
	if _, err := o.api.Patch(ctx, userPath(principal), body); err != nil {
		return nil, err
	}
	o.logger.Info("password reset",
		zap.String("user", masking.Mask(principal)), zap.Bool("generated", generated), zap.String("comment", masking.Preview(comment, 80)))
	return &OperationResult{
		Status:  ResultSuccess,
		Message: "password reset",
		Data: map[string]any{
			"user_id":                    principal,
			"force_change_on_next_login": forceChange,
			"generated":                  generated,
		},
		Secret: password,
	}, nil
}

// ResetMFA deletes every registered method except passwords. Methods that
// fail to delete are logged and listed under skipped_methods.
func (o *Operations) ResetMFA(ctx context.Context, principal, comment string) (*OperationResult, error) {
	if err := requireFields(map[string]string{"user_id": principal}); err != nil {
		return nil, err
	}
	methods, err := o.AuthMethods(ctx, principal)
	if err != nil {
		return nil, err
	}

	deleted := make([]map[string]any, 0, len(methods))
	skipped := make([]map[string]any, 0)
	for _, m := range methods {
		if strings.Contains(strings.ToLower(m.Type), "password") {
			continue
		}
		if _, err := o.api.Delete(ctx, userPath(principal, "authentication", "methods", m.ID)); err != nil {
			o.logger.Warn("mfa method delete failed",
				zap.String("user", masking.Mask(principal)), zap.String("method_id", m.ID), zap.String("type", m.Type), zap.Error(err))
			msg, _ := Describe(err)
			skipped = append(skipped, map[string]any{"id": m.ID, "type": m.Type, "error": msg})
			continue
		}
		deleted = append(deleted, map[string]any{"id": m.ID, "type": m.Type})
	}

	o.logger.Info("mfa reset",
		zap.String("user", masking.Mask(principal)),
		zap.Int("deleted", len(deleted)), zap.Int("skipped", len(skipped)),
		zap.String("comment", masking.Preview(comment, 80)))
	message := "mfa reset"
	if len(skipped) > 0 {
		message = fmt.Sprintf("mfa reset with %d method(s) skipped", len(skipped))
	}
	return &OperationResult{
		Status:  ResultSuccess,
		Message: message,
		Data: map[string]any{
			"user_id":         principal,
			"deleted_methods": deleted,
			"skipped_methods": skipped,
		},
	}, nil
}

// AddGroupMember adds principal to group after confirming the group exists.
func (o *Operations) AddGroupMember(ctx context.Context, group, principal, comment string) (*OperationResult, error) {
	if err := requireFields(map[string]string{"group_id": group, "user_id": principal}); err != nil {
		return nil, err
	}
	if _, err := o.api.Get(ctx, groupPath(group), nil); err != nil {
		return nil, err
	}
	ref := map[string]any{"@odata.id": o.api.BaseURL() + "/" + userPath(principal)}
	if _, err := o.api.Post(ctx, groupPath(group, "members", "$ref"), ref); err != nil {
		return nil, err
	}
	o.logger.Info("group member added",
		zap.String("group_id", group), zap.String("user", masking.Mask(principal)), zap.String("comment", masking.Preview(comment, 80)))
	return &OperationResult{
		Status:  ResultSuccess,
		Message: "user added to group",
		Data:    map[string]any{"group_id": group, "user_id": principal},
	}, nil
}

// RemoveGroupMember removes principal from group. A member that is already
// absent is a no-op success.
func (o *Operations) RemoveGroupMember(ctx context.Context, group, principal, comment string) (*OperationResult, error) {
	if err := requireFields(map[string]string{"group_id": group, "user_id": principal}); err != nil {
		return nil, err
	}
	if _, err := o.api.Get(ctx, groupPath(group), nil); err != nil {
		return nil, err
	}
	result := &OperationResult{
		Status:  ResultSuccess,
		Message: "user removed from group",
		Data:    map[string]any{"group_id": group, "user_id": principal},
	}
	if _, err := o.api.Delete(ctx, groupPath(group, "members", principal, "$ref")); err != nil {
		if !IsNotFound(err) {
			return nil, err
		}
		result.Message = "user was not a member"
		result.NoOp = true
	}
	o.logger.Info("group member removed",
		zap.String("group_id", group), zap.String("user", masking.Mask(principal)),
		zap.Bool("no_op", result.NoOp), zap.String("comment", masking.Preview(comment, 80)))
	return result, nil
}

// GetUser reads one user by id or UPN.
func (o *Operations) GetUser(ctx context.Context, principal string) (*User, error) {
	if err := requireFields(map[string]string{"user_id": principal}); err != nil {
		return nil, err
	}
	raw, err := o.api.Get(ctx, userPath(principal), nil)
	if err != nil {
		return nil, err
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, &APIError{StatusCode: 200, Message: "malformed user", Err: err}
	}
	return &u, nil
}

// SearchUsers matches query against the start of displayName, mail or UPN.
func (o *Operations) SearchUsers(ctx context.Context, query string, top int) ([]User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &ValidationError{Message: "search query is required"}
	}
	if top <= 0 {
		top = 10
	}
	if top > 50 {
		return nil, &ValidationError{Message: "top must be between 1 and 50", Details: map[string]any{"top": top}}
	}
	q := strings.ReplaceAll(query, "'", "''")
	params := url.Values{
		"$filter": {fmt.Sprintf("startswith(displayName,'%s') or startswith(mail,'%s') or startswith(userPrincipalName,'%s')", q, q, q)},
		"$top":    {strconv.Itoa(top)},
		"$select": {"id,userPrincipalName,displayName,mail,jobTitle,department"},
	}
	raw, err := o.api.Get(ctx, "users", params)
	if err != nil {
		return nil, err
	}
	var page struct {
		Value []User `json:"value"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, &APIError{StatusCode: 200, Message: "malformed user list", Err: err}
		}
	}
	return page.Value, nil
}

// UserLicenses lists the licenses assigned to principal.
func (o *Operations) UserLicenses(ctx context.Context, principal string) ([]AssignedLicense, error) {
	if err := requireFields(map[string]string{"user_id": principal}); err != nil {
		return nil, err
	}
	raw, err := o.api.Get(ctx, userPath(principal), url.Values{"$select": {"assignedLicenses,licenseAssignmentStates"}})
	if err != nil {
		return nil, err
	}
	var body struct {
		AssignedLicenses []AssignedLicense `json:"assignedLicenses"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, &APIError{StatusCode: 200, Message: "malformed license list", Err: err}
		}
	}
	if body.AssignedLicenses == nil {
		body.AssignedLicenses = []AssignedLicense{}
	}
	return body.AssignedLicenses, nil
}

// ListLicenses returns the tenant's SKU inventory with available = enabled - consumed.
func (o *Operations) ListLicenses(ctx context.Context) ([]LicenseInventory, error) {
	items, err := o.api.Paginate(ctx, "subscribedSkus", nil)
	if err != nil {
		return nil, err
	}
	out := make([]LicenseInventory, 0, len(items))
	for _, item := range items {
		var sku struct {
			SkuID         string `json:"skuId"`
			SkuPartNumber string `json:"skuPartNumber"`
			ConsumedUnits int    `json:"consumedUnits"`
			PrepaidUnits  struct {
				Enabled int `json:"enabled"`
			} `json:"prepaidUnits"`
		}
		if err := json.Unmarshal(item, &sku); err != nil {
			return nil, &APIError{StatusCode: 200, Message: "malformed sku", Err: err}
		}
		out = append(out, LicenseInventory{
			SkuID:         sku.SkuID,
			SkuPartNumber: sku.SkuPartNumber,
			Enabled:       sku.PrepaidUnits.Enabled,
			Consumed:      sku.ConsumedUnits,
			Available:     sku.PrepaidUnits.Enabled - sku.ConsumedUnits,
		})
	}
	return out, nil
}

// AuthMethods lists principal's registered authentication methods.
func (o *Operations) AuthMethods(ctx context.Context, principal string) ([]AuthMethod, error) {
	if err := requireFields(map[string]string{"user_id": principal}); err != nil {
		return nil, err
	}
	items, err := o.api.Paginate(ctx, userPath(principal, "authentication", "methods"), nil)
	if err != nil {
		return nil, err
	}
	methods := make([]AuthMethod, 0, len(items))
	for _, item := range items {
		var m AuthMethod
		if err := json.Unmarshal(item, &m); err != nil {
			return nil, &APIError{StatusCode: 200, Message: "malformed authentication method", Err: err}
		}
		methods = append(methods, m)
	}
	return methods, nil
}

// OperationSummary previews the directory state a task of kind would change.
func (o *Operations) OperationSummary(ctx context.Context, kind, principal string) (map[string]any, error) {
	user, err := o.GetUser(ctx, principal)
	if err != nil {
		return nil, err
	}
	summary := map[string]any{
		"user_id":         user.ID,
		"upn":             user.UserPrincipalName,
		"display_name":    user.DisplayName,
		"mail":            user.Mail,
		"job_title":       user.JobTitle,
		"department":      user.Department,
		"account_enabled": user.AccountEnabled,
	}
	lower := strings.ToLower(kind)
	if strings.Contains(lower, "license") {
		licenses, err := o.UserLicenses(ctx, principal)
		if err != nil {
			return nil, err
		}
		summary["current_licenses"] = licenses
	}
	if strings.Contains(lower, "mfa") {
		methods, err := o.AuthMethods(ctx, principal)
		if err != nil {
			return nil, err
		}
		summary["auth_methods"] = methods
	}
	return summary, nil
}

func requireFields(fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &ValidationError{Message: "missing required input", Details: map[string]any{"missing": missing}}
}

func userPath(principal string, rest ...string) string {
	return joinPath("users", principal, rest...)
}

func groupPath(group string, rest ...string) string {
	return joinPath("groups", group, rest...)
}

func joinPath(collection, id string, rest ...string) string {
	parts := append([]string{collection, url.PathEscape(id)}, rest...)
	for i := 2; i < len(parts); i++ {
		if parts[i] != "$ref" {
			parts[i] = url.PathEscape(parts[i])
		}
	}
	return strings.Join(parts, "/")
}

func decodeLoose(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
