package groupme

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
)

// How a MockGroup answers member-results polls.
const (
	MockResultsConfirm = "confirm"
	MockResultsPending = "pending"
	MockResultsExpired = "expired"
	// add calls return no results id at all
	MockResultsNone = "none"
)

// MockGroup is an in-memory stand-in for the GroupMe API serving a single group, for use with httptest.
type MockGroup struct {
	mu sync.Mutex

	GroupID  string
	Members  []Member
	ShareURL string

	// status codes for successive calls; 200 once exhausted
	RemoveStatus []int
	AddStatus    []int

	ResultsMode string
	// whether an add call actually puts the user in the roster
	AddJoins bool

	Removes      int
	AddNicknames []string
	Polls        int
	Posts        []string
	Deleted      []string
}

func NewMockGroup(groupID string, members ...Member) *MockGroup {
	return &MockGroup{
		GroupID:     groupID,
		Members:     append([]Member(nil), members...),
		ResultsMode: MockResultsConfirm,
		AddJoins:    true,
	}
}

// Locked runs fn with the mock's state locked, for reading counters or adjusting behavior mid-test.
func (f *MockGroup) Locked(fn func(f *MockGroup)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *MockGroup) InRoster(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inRoster(userID)
}

func (f *MockGroup) inRoster(userID string) bool {
	for _, m := range f.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func popStatus(codes *[]int) int {
	if len(*codes) == 0 {
		return http.StatusOK
	}
	c := (*codes)[0]
	*codes = (*codes)[1:]
	return c
}

func writeMockError(w http.ResponseWriter, code int) {
	if code == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "0")
	}
	w.WriteHeader(code)
	io.WriteString(w, `{"meta": {"errors": ["mock failure"]}}`)
}

func writeMockResponse(w http.ResponseWriter, code int, resp any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"response": resp})
}

func mockMembers(members []Member) []map[string]any {
	out := make([]map[string]any, 0, len(members))
	for _, m := range members {
		out = append(out, map[string]any{
			"id":       m.MembershipID,
			"user_id":  m.UserID,
			"nickname": m.Nickname,
			"roles":    m.Roles,
		})
	}
	return out
}

func (f *MockGroup) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	groupPath := "/groups/" + f.GroupID
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == groupPath:
		writeMockResponse(w, http.StatusOK, map[string]any{
			"id":        f.GroupID,
			"share_url": f.ShareURL,
			"members":   mockMembers(f.Members),
		})

	case r.Method == http.MethodPost && strings.HasPrefix(path, groupPath+"/members/") && strings.HasSuffix(path, "/remove"):
		f.Removes++
		if code := popStatus(&f.RemoveStatus); code != http.StatusOK {
			writeMockError(w, code)
			return
		}
		mid := strings.TrimSuffix(strings.TrimPrefix(path, groupPath+"/members/"), "/remove")
		kept := f.Members[:0]
		for _, m := range f.Members {
			if m.MembershipID != mid {
				kept = append(kept, m)
			}
		}
		f.Members = kept
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodPost && path == groupPath+"/members/add":
		var body struct {
			Members []AddMember `json:"members"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeMockError(w, http.StatusBadRequest)
			return
		}
		for _, m := range body.Members {
			f.AddNicknames = append(f.AddNicknames, m.Nickname)
		}
		if code := popStatus(&f.AddStatus); code != http.StatusOK {
			writeMockError(w, code)
			return
		}
		if f.AddJoins {
			for _, m := range body.Members {
				if !f.inRoster(m.UserID) {
					f.Members = append(f.Members, Member{UserID: m.UserID, MembershipID: "m" + m.UserID, Nickname: m.Nickname})
				}
			}
		}
		if f.ResultsMode == MockResultsNone {
			writeMockResponse(w, http.StatusAccepted, map[string]any{})
			return
		}
		writeMockResponse(w, http.StatusAccepted, map[string]any{"results_id": "r1"})

	case r.Method == http.MethodGet && path == groupPath+"/members/results/r1":
		f.Polls++
		switch f.ResultsMode {
		case MockResultsPending:
			w.WriteHeader(http.StatusServiceUnavailable)
		case MockResultsExpired:
			w.WriteHeader(http.StatusNotFound)
		default:
			writeMockResponse(w, http.StatusOK, map[string]any{"members": mockMembers(f.Members)})
		}

	case r.Method == http.MethodPost && path == "/bots/post":
		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeMockError(w, http.StatusBadRequest)
			return
		}
		f.Posts = append(f.Posts, body.Text)
		w.WriteHeader(http.StatusAccepted)

	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/conversations/"+f.GroupID+"/messages/"):
		f.Deleted = append(f.Deleted, strings.TrimPrefix(path, "/conversations/"+f.GroupID+"/messages/"))
		w.WriteHeader(http.StatusNoContent)

	default:
		writeMockError(w, http.StatusNotFound)
	}
}
