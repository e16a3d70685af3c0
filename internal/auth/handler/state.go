package handler

import (
	"crypto/subtle"

	"github.com/PercentBoat4164/GiteaOAuth/internal/session"
	"github.com/PercentBoat4164/GiteaOAuth/internal/utils"
)

const stateBytes = 32

// issueState creates a fresh OAuth state and remembers it in the session.
func issueState(sess *session.Session) (string, error) {
	state, err := utils.RandomString(stateBytes)
	if err != nil {
		return "", err
	}
	sess.SetState(state)
	return state, nil
}

// consumeState checks the returned state against the pending one. The
// pending state is cleared either way, so a state is good for one callback.
func consumeState(sess *session.Session, got string) bool {
	want := sess.TakeState()
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
