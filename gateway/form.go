// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import "strings"

// FormKind selects what a form asks the server for.
type FormKind string

const (
	// KindInstructions asks for the registration instructions (terms
	// of service, supported challenges). It carries no fields.
	KindInstructions FormKind = "instructions"
	// KindRegistration submits a phone number for verification.
	KindRegistration FormKind = "registration"
	// KindPrivateKeyRequest asks for a private key parked by another
	// device.
	KindPrivateKeyRequest FormKind = "private-key-request"
)

// Form type identifiers carried in the FORM_TYPE field.
const (
	FormTypeRegistration = "urn:provision:register"
	FormTypePrivateKey   = "urn:provision:privatekey"
)

// Field types.
const (
	FieldHidden     = "hidden"
	FieldTextSingle = "text-single"
	FieldBoolean    = "boolean"
	FieldListSingle = "list-single"
)

// Field names used in forms and replies.
const (
	FieldFormType        = "FORM_TYPE"
	FieldPhone           = "phone"
	FieldAcceptTerms     = "accept-terms"
	FieldForce           = "force"
	FieldFallback        = "fallback"
	FieldChallenge       = "challenge"
	FieldPrivateKeyToken = "privateKeyToken"
)

// Field is one entry of a form or reply.
type Field struct {
	Var    string   `json:"var"`
	Type   string   `json:"type,omitempty"`
	Values []string `json:"values,omitempty"`
}

// Form is a request sent to a server.
type Form struct {
	Kind   FormKind `json:"kind"`
	Fields []Field  `json:"fields,omitempty"`
}

// Value returns the first value of the named field, or "".
func (f Form) Value(name string) string {
	return firstValue(f.Fields, name)
}

// InstructionsForm asks for registration instructions.
func InstructionsForm() Form {
	return Form{Kind: KindInstructions}
}

// RegistrationParams are the inputs of RegistrationForm.
type RegistrationParams struct {
	PhoneNumber string
	AcceptTerms bool
	Force       bool
	// Fallback requests the server's alternate verification path. When
	// set, Challenge is not sent.
	Fallback  bool
	Challenge string
}

// RegistrationForm builds the form submitting a phone number for
// verification. Boolean flags are only present when set.
func RegistrationForm(params RegistrationParams) Form {
	fields := []Field{
		{Var: FieldFormType, Type: FieldHidden, Values: []string{FormTypeRegistration}},
		{Var: FieldPhone, Type: FieldTextSingle, Values: []string{params.PhoneNumber}},
	}
	if params.AcceptTerms {
		fields = append(fields, Field{Var: FieldAcceptTerms, Type: FieldBoolean, Values: []string{"true"}})
	}
	if params.Force {
		fields = append(fields, Field{Var: FieldForce, Type: FieldBoolean, Values: []string{"true"}})
	}
	if params.Fallback {
		fields = append(fields, Field{Var: FieldFallback, Type: FieldBoolean, Values: []string{"true"}})
	} else if params.Challenge != "" {
		fields = append(fields, Field{Var: FieldChallenge, Type: FieldListSingle, Values: []string{params.Challenge}})
	}
	return Form{Kind: KindRegistration, Fields: fields}
}

// PrivateKeyRequestForm builds the form asking for the private key
// parked under token.
func PrivateKeyRequestForm(token string) Form {
	return Form{
		Kind: KindPrivateKeyRequest,
		Fields: []Field{
			{Var: FieldFormType, Type: FieldHidden, Values: []string{FormTypePrivateKey}},
			{Var: FieldPrivateKeyToken, Type: FieldTextSingle, Values: []string{token}},
		},
	}
}

// AccountData carries key blobs returned by a private-key request.
type AccountData struct {
	PrivateKey []byte `json:"private_key,omitempty"`
	PublicKey  []byte `json:"public_key,omitempty"`
}

// Reply is a server's answer to a form.
type Reply struct {
	ID      CorrelationID `json:"id"`
	Fields  []Field       `json:"fields,omitempty"`
	Account *AccountData  `json:"account,omitempty"`
}

// Field returns the named field.
func (r *Reply) Field(name string) (Field, bool) {
	for _, field := range r.Fields {
		if field.Var == name {
			return field, true
		}
	}
	return Field{}, false
}

// Value returns the first value of the named field, or "".
func (r *Reply) Value(name string) string {
	return firstValue(r.Fields, name)
}

// Bool interprets the named field with ParseBool. The field's declared
// type is not checked: servers omit it.
func (r *Reply) Bool(name string) bool {
	return ParseBool(r.Value(name))
}

// ParseBool accepts "1", "true" and "yes" in any case as true.
func ParseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func firstValue(fields []Field, name string) string {
	for _, field := range fields {
		if field.Var == name && len(field.Values) > 0 {
			return field.Values[0]
		}
	}
	return ""
}
