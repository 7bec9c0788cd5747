package main

import "errors"

var errInvalidKey = errors.New("signing key must be a PEM or hex P-256 private key")
