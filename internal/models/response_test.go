package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSavedResponseClone(t *testing.T) {
	orig := &SavedResponse{
		StatusCode: 303,
		Headers: []HeaderPair{
			{Name: "Location", Value: []byte("/admin/newsletters")},
			{Name: "Content-Type", Value: []byte("text/plain")},
		},
		Body: []byte("accepted"),
	}

	clone := orig.Clone()
	require.Equal(t, orig, clone)

	clone.Headers[0].Value[0] = 'X'
	clone.Body[0] = 'X'
	require.Equal(t, "/admin/newsletters", string(orig.Headers[0].Value))
	require.Equal(t, "accepted", string(orig.Body))

	location, ok := orig.Header("Location")
	require.True(t, ok)
	require.Equal(t, "/admin/newsletters", location)

	_, ok = orig.Header("Retry-After")
	require.False(t, ok)

	var nilResp *SavedResponse
	require.Nil(t, nilResp.Clone())
}
