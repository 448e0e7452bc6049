package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type AddressKind string

const (
	AddressStructured AddressKind = "structured"
	AddressFreeform   AddressKind = "freeform"
)

// Address is the normalized form of a shipping or billing address. Clients send
// it as a JSON object, as a JSON-encoded string of an object, or as free text;
// UnmarshalJSON reduces all three to this shape once, at the boundary.
type Address struct {
	Kind       AddressKind `json:"kind"`
	Name       string      `json:"name,omitempty"`
	FirstName  string      `json:"firstName,omitempty"`
	LastName   string      `json:"lastName,omitempty"`
	Email      string      `json:"email,omitempty"`
	Phone      string      `json:"phone,omitempty"`
	Line1      string      `json:"line1,omitempty"`
	Line2      string      `json:"line2,omitempty"`
	City       string      `json:"city,omitempty"`
	State      string      `json:"state,omitempty"`
	PostalCode string      `json:"postalCode,omitempty"`
	Country    string      `json:"country,omitempty"`
	Raw        string      `json:"raw,omitempty"`
}

var addressAliases = map[string][]string{
	"name":       {"name", "fullName", "full_name"},
	"firstName":  {"firstName", "first_name"},
	"lastName":   {"lastName", "last_name"},
	"email":      {"email", "emailAddress", "email_address"},
	"phone":      {"phone", "phoneNumber", "phone_number", "mobile"},
	"line1":      {"line1", "address", "address1", "addressLine1", "address_line1", "street"},
	"line2":      {"line2", "address2", "addressLine2", "address_line2", "apartment"},
	"city":       {"city", "town"},
	"state":      {"state", "province", "region"},
	"postalCode": {"postalCode", "postal_code", "zip", "zipCode", "zip_code"},
	"country":    {"country", "countryCode", "country_code"},
}

func (a *Address) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = Address{}
		return nil
	}

	switch data[0] {
	case '{':
		return a.fromObject(data)
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return a.fromString(s)
	default:
		return errors.New("address must be an object or a string")
	}
}

func (a *Address) fromString(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*a = Address{}
		return nil
	}
	if strings.HasPrefix(s, "{") && json.Valid([]byte(s)) {
		return a.fromObject([]byte(s))
	}
	*a = Address{Kind: AddressFreeform, Raw: s}
	return nil
}

func (a *Address) fromObject(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("parsing address: %w", err)
	}

	pick := func(key string) string {
		for _, alias := range addressAliases[key] {
			if v, ok := fields[alias]; ok {
				if s := scalarString(v); s != "" {
					return s
				}
			}
		}
		return ""
	}

	if kind, _ := fields["kind"].(string); AddressKind(kind) == AddressFreeform {
		raw, _ := fields["raw"].(string)
		*a = Address{Kind: AddressFreeform, Raw: strings.TrimSpace(raw)}
		return nil
	}

	*a = Address{
		Kind:       AddressStructured,
		Name:       pick("name"),
		FirstName:  pick("firstName"),
		LastName:   pick("lastName"),
		Email:      pick("email"),
		Phone:      pick("phone"),
		Line1:      pick("line1"),
		Line2:      pick("line2"),
		City:       pick("city"),
		State:      pick("state"),
		PostalCode: pick("postalCode"),
		Country:    pick("country"),
	}
	return nil
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// IsZero reports an address that carried no content.
func (a *Address) IsZero() bool {
	return a == nil || *a == Address{}
}

// ContactName returns the display name, combining first and last name when no
// full name was given. Free-form addresses carry no contact fields.
func (a *Address) ContactName() string {
	if a == nil || a.Kind != AddressStructured {
		return ""
	}
	if a.Name != "" {
		return a.Name
	}
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

func (a *Address) ContactEmail() string {
	if a == nil || a.Kind != AddressStructured {
		return ""
	}
	return a.Email
}

func (a *Address) ContactPhone() string {
	if a == nil || a.Kind != AddressStructured {
		return ""
	}
	return a.Phone
}

// String renders the address on one line for emails and logs.
func (a *Address) String() string {
	if a == nil {
		return ""
	}
	if a.Kind == AddressFreeform {
		return a.Raw
	}
	var parts []string
	for _, p := range []string{a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Value stores the address as JSONB.
func (a *Address) Value() (driver.Value, error) {
	if a.IsZero() {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *Address) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Address{}
		return nil
	case []byte:
		return a.UnmarshalJSON(v)
	case string:
		return a.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into Address", src)
	}
}
