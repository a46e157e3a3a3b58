// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
profile is a package for storing the profile record of an authenticated user,
keyed by the user's stable subject id.

Every Store implements Upsert as a merge: fields present in the update
overwrite stored ones, and empty fields never erase what is stored.  Repeating
the same upsert leaves the record unchanged apart from its update time.

Stores provided by the package

* MemoryStore: a mutex guarded map, for tests and single instance
deployments.

* FirestoreStore: documents in a Cloud Firestore collection ("users" by
default), written with firestore.MergeAll and a server side "updated_at"
timestamp.

* SQLiteStore: a JSON document per subject in a SQLite table, merged inside a
transaction.
*/
package profile
