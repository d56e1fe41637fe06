package net

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrUnauthenticated = errors.New("session is not authenticated")
	ErrCallerMismatch  = errors.New("caller does not match the authenticated account")
	ErrNoChallenge     = errors.New("no challenge issued")
)

var challengeDomain = []byte("limitbook session challenge")

// ChallengeHash is the digest a client signs to prove it holds the key of
// the account it trades as.
func ChallengeHash(nonce [NonceLen]byte) []byte {
	return crypto.Keccak256(challengeDomain, nonce[:])
}

// SignChallenge answers a ChallengeMessage with key.
func SignChallenge(key *ecdsa.PrivateKey, nonce [NonceLen]byte) (AuthenticateMessage, error) {
	sig, err := crypto.Sign(ChallengeHash(nonce), key)
	if err != nil {
		return AuthenticateMessage{}, err
	}
	return AuthenticateMessage{Signature: sig}, nil
}

func newNonce() ([NonceLen]byte, error) {
	var nonce [NonceLen]byte
	_, err := rand.Read(nonce[:])
	return nonce, err
}

func recoverSigner(nonce [NonceLen]byte, sig []byte) (common.Address, error) {
	pub, err := crypto.SigToPub(ChallengeHash(nonce), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
