// Package server implements the authorization and token issuance logic:
// grant processors for the four supported grant types, the front-channel
// consent flow, scope evaluation, client credential extraction, and the
// token issuance pipeline. It is transport-agnostic; HTTP wiring lives in
// the root package.
package server
