package service

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"
)

var digitRun = regexp.MustCompile(`\d+`)

// ParseCustomerID accepts a JSON number or a numeric string. Zero, negative and
// non-numeric values are rejected.
func ParseCustomerID(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, apperr.NewFieldError("userId", "userId is required")
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, apperr.NewFieldError("userId", "userId must be numeric")
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return 0, apperr.NewFieldError("userId", "userId is required")
		}
	}

	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, apperr.NewFieldError("userId", "userId must be numeric")
	}
	if id <= 0 {
		return 0, apperr.NewFieldError("userId", "userId is required")
	}
	return id, nil
}

// ParseProductRef extracts a product id. Numbers are taken as they are; strings
// yield their first run of digits ("laptop-104" is 104). Anything else is nil.
func ParseProductRef(raw json.RawMessage) *int64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	var text string
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		text = digitRun.FindString(s)
	case 'n', 't', 'f', '{', '[':
		return nil
	default:
		text = string(raw)
		if f, err := strconv.ParseFloat(text, 64); err == nil && f == math.Trunc(f) && f > 0 && f < 1<<53 {
			text = strconv.FormatInt(int64(f), 10)
		}
	}

	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

// CustomerInput is the explicit contact block a client may send with an order
type CustomerInput struct {
	Name      string `json:"name"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

func (c *CustomerInput) fullName() string {
	if c == nil {
		return ""
	}
	if n := strings.TrimSpace(c.Name); n != "" {
		return n
	}
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// Contact is the name, email and phone frozen onto an order
type Contact struct {
	Name  string
	Email string
	Phone string
}

// ResolveContact picks each field from the first source that has it: the
// explicit customer block, then the shipping address, then the billing address,
// then the stored customer profile.
func ResolveContact(customer *CustomerInput, shipping, billing *models.Address, profile *models.CustomerProfile) Contact {
	var c Contact

	if customer != nil {
		c.Name = customer.fullName()
		c.Email = strings.TrimSpace(customer.Email)
		c.Phone = strings.TrimSpace(customer.Phone)
	}

	for _, addr := range []*models.Address{shipping, billing} {
		fill(&c.Name, addr.ContactName())
		fill(&c.Email, addr.ContactEmail())
		fill(&c.Phone, addr.ContactPhone())
	}

	if profile != nil {
		fill(&c.Name, profile.Name)
		fill(&c.Email, profile.Email)
		fill(&c.Phone, profile.Phone)
	}

	return c
}

func fill(dst *string, candidate string) {
	if *dst != "" {
		return
	}
	*dst = strings.TrimSpace(candidate)
}

func (c Contact) complete() bool {
	return c.Name != "" && c.Email != "" && c.Phone != ""
}
