// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
session is a package for minting the session credential handed to the browser
once a login has been verified.

JWTMinter signs a short lived RS256 custom token in the shape Firebase
Authentication accepts for signInWithCustomToken: the service account is both
issuer and subject, the subject id is carried as "uid" and additional claims
under "claims".
*/
package session
