package schema

// Includes holds the expansions attached to a response.
type Includes struct {
	Users  []User  `json:"users,omitempty"`
	Tweets []Post  `json:"tweets,omitempty"`
	Media  []Media `json:"media,omitempty"`
}

// Meta carries pagination state.
type Meta struct {
	ResultCount int    `json:"result_count,omitempty"`
	NextToken   string `json:"next_token,omitempty"`
}

// Problem is a partial error reported next to data, such as a quoted post
// that was deleted or is not visible to the caller.
type Problem struct {
	Title        string `json:"title,omitempty"`
	Detail       string `json:"detail,omitempty"`
	Type         string `json:"type,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
}

// Page is one X API v2 response envelope. It is used both for bookmark
// pages and for post lookups, which share the same shape.
type Page struct {
	Data     []Post    `json:"data,omitempty"`
	Includes Includes  `json:"includes,omitempty"`
	Meta     Meta      `json:"meta,omitempty"`
	Errors   []Problem `json:"errors,omitempty"`
}

// AllPosts returns data followed by included posts, deduplicated by id.
// A later occurrence replaces an earlier one but keeps its position.
func (p *Page) AllPosts() []Post {
	return DedupePosts(append(append([]Post(nil), p.Data...), p.Includes.Tweets...))
}

// Users returns the included users, deduplicated by id.
func (p *Page) Users() []User {
	return DedupeUsers(p.Includes.Users)
}

// DedupePosts collapses posts sharing an id.
func DedupePosts(posts []Post) []Post {
	index := make(map[string]int, len(posts))
	out := make([]Post, 0, len(posts))
	for _, post := range posts {
		if i, ok := index[post.ID]; ok {
			out[i] = post
			continue
		}
		index[post.ID] = len(out)
		out = append(out, post)
	}
	return out
}

// DedupeUsers collapses users sharing an id.
func DedupeUsers(users []User) []User {
	index := make(map[string]int, len(users))
	out := make([]User, 0, len(users))
	for _, user := range users {
		if i, ok := index[user.ID]; ok {
			out[i] = user
			continue
		}
		index[user.ID] = len(out)
		out = append(out, user)
	}
	return out
}

// PostIDs returns the ids of posts in order.
func PostIDs(posts []Post) []string {
	ids := make([]string, 0, len(posts))
	for _, post := range posts {
		ids = append(ids, post.ID)
	}
	return ids
}

// UserIDs returns the ids of users in order.
func UserIDs(users []User) []string {
	ids := make([]string, 0, len(users))
	for _, user := range users {
		ids = append(ids, user.ID)
	}
	return ids
}
