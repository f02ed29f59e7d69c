// Package atproto is the authenticated write side of thoughtstream.
//
// Sessions holds the signed-in account (created with an app password through
// com.atproto.server.createSession and persisted as one blob). Publisher writes blip records
// to that account's repository through com.atproto.repo.createRecord, refreshing the access
// token first when it has expired.
package atproto
