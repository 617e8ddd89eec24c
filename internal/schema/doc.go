// Package schema defines the X API v2 payload shapes that xstash stores.
//
// # Overview
//
// Every entity keeps the strict fields xstash relies on (ids, text,
// timestamps, reference edges) as typed struct fields. The exact bytes
// received from the API are retained in Raw so the store can persist the
// full payload verbatim, including platform fields this package does not
// model.
//
// # Entities
//
//   - Post: a tweet, with optional note_tweet long-form text and
//     referenced_tweets edges (quoted, replied_to, retweeted)
//   - User: an author expansion
//   - Media: a photo, video or animated_gif attachment
//   - Page: one response envelope carrying data, includes and meta
//
// # Example
//
//	var page schema.Page
//	if err := json.Unmarshal(body, &page); err != nil {
//	    return err
//	}
//	for _, post := range page.AllPosts() {
//	    fmt.Println(post.ID, post.DisplayText())
//	}
package schema
