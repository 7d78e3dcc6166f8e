package groupme

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockGroup(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	mock := NewMockGroup("g1", Member{UserID: "100", MembershipID: "m100", Nickname: "Alice"})
	mock.ShareURL = "https://groupme.com/join_group/g1/x"
	srv := httptest.NewServer(mock)
	defer srv.Close()

	c := NewClient(srv.URL, "tok", "g1", "bot1")
	c.HTTPClient = NewHTTPClient(WithMaxRetries(0), WithTimeout(2*time.Second))

	g, err := c.GetGroup(ctx)
	require.NoError(t, err)
	assert.Equal(mock.ShareURL, g.ShareURL)
	assert.Equal("m100", g.Members[0].MembershipID)

	rid, err := c.AddMembers(ctx, []AddMember{{UserID: "200", Nickname: "Bob"}})
	require.NoError(t, err)
	added, err := c.MemberResults(ctx, rid)
	require.NoError(t, err)
	assert.Len(added, 2)
	assert.True(mock.InRoster("200"))

	assert.NoError(c.RemoveMember(ctx, "m100"))
	assert.False(mock.InRoster("100"))

	mock.Locked(func(f *MockGroup) {
		f.RemoveStatus = []int{http.StatusTooManyRequests}
	})
	assert.True(IsRateLimited(c.RemoveMember(ctx, "m200")))

	assert.NoError(c.PostBotMessage(ctx, "hi"))
	assert.NoError(c.DeleteMessage(ctx, "msg1"))
	mock.Locked(func(f *MockGroup) {
		assert.Equal([]string{"hi"}, f.Posts)
		assert.Equal([]string{"msg1"}, f.Deleted)
		assert.Equal(2, f.Removes)
	})
}
