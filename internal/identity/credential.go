// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package identity

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedScheme is matched by every *UnsupportedSchemeError.
var ErrUnsupportedScheme = errors.New("credential scheme not supported")

// UnsupportedSchemeError is returned for credential schemes that are
// recognized but have no implementation.
type UnsupportedSchemeError struct {
	Scheme string
}

func (e *UnsupportedSchemeError) Error() string {
	return fmt.Sprintf("credential scheme %q is not supported", e.Scheme)
}

func (e *UnsupportedSchemeError) Is(target error) bool {
	return target == ErrUnsupportedScheme
}

// Scheme identifies the scheme tag of an Authorization header.
type Scheme int

const (
	// SchemeUnrecognized covers any tag missing from the scheme table.
	SchemeUnrecognized Scheme = iota
	SchemeSimpleJWT
	SchemeOAuth
	SchemeHawk
	SchemeHTTPSignature
	SchemeDjoser
	SchemeRestAuth
	SchemeSocialOAuth2
	SchemeKnox
	SchemePasswordless
)

// schemes maps Authorization tags to schemes. Which of them can actually be
// verified is decided by the Resolver's handlers.
var schemes = map[string]Scheme{
	"simplejwt":                           SchemeSimpleJWT,
	"oauth":                               SchemeOAuth,
	"hawk":                                SchemeHawk,
	"httpsignature":                       SchemeHTTPSignature,
	"djoser":                              SchemeDjoser,
	"django-rest-auth":                    SchemeRestAuth,
	"django-rest-framework-social-oauth2": SchemeSocialOAuth2,
	"django-rest-knox":                    SchemeKnox,
	"drfpasswordless":                     SchemePasswordless,
}

// Credential is a parsed "<scheme> <token>" Authorization header.
type Credential struct {
	Scheme Scheme
	// Tag is the raw scheme tag as sent by the client.
	Tag   string
	Token string
}

// Recognized reports whether the tag appears in the scheme table.
func (c Credential) Recognized() bool {
	return c.Scheme != SchemeUnrecognized
}

// ParseCredential splits an Authorization header value into scheme tag and
// token. It returns false when either part is missing.
func ParseCredential(header string) (Credential, bool) {
	tag, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	token = strings.TrimSpace(token)
	if !ok || tag == "" || token == "" {
		return Credential{}, false
	}

	cred := Credential{Scheme: SchemeUnrecognized, Tag: tag, Token: token}
	if scheme, known := schemes[tag]; known {
		cred.Scheme = scheme
	}
	return cred, true
}
