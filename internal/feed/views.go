// Package feed owns the live aggregation pipeline for one signed-in user:
// chunked subscriptions over the follow graph fan into merge tables, and
// every applied event is projected into the render-ready feed and story
// tray.
package feed

import (
	"sort"
	"time"

	"snapgram/internal/model"
)

// Item is one feed entry with the author resolved.
type Item struct {
	ID             string    `json:"id"`
	AuthorID       string    `json:"author_id"`
	AuthorHandle   string    `json:"author_handle"`
	AuthorPhotoURL string    `json:"author_photo_url"`
	MediaURL       string    `json:"media_url"`
	MediaType      string    `json:"media_type"`
	Caption        string    `json:"caption"`
	CreatedAt      time.Time `json:"created_at"`
	LikesCount     int64     `json:"likes_count"`
	CommentsCount  int64     `json:"comments_count"`
}

// TrayGroup is one author's slot in the story tray.
type TrayGroup struct {
	AuthorID       string        `json:"author_id"`
	AuthorHandle   string        `json:"author_handle"`
	AuthorPhotoURL string        `json:"author_photo_url"`
	Stories        []model.Story `json:"stories"`
}

// BuildFeed projects the merged post and profile tables into the feed:
// newest first, ties broken by id ascending so every device renders the
// same order. Posts whose author profile has not fanned in yet fall back
// to the denormalized author fields written with the post.
func BuildFeed(posts map[string]model.Post, profiles map[string]model.User) []Item {
	items := make([]Item, 0, len(posts))
	for _, p := range posts {
		item := Item{
			ID:             p.ID,
			AuthorID:       p.AuthorID,
			AuthorHandle:   p.AuthorHandle,
			AuthorPhotoURL: p.AuthorPhotoURL,
			MediaURL:       p.MediaURL,
			MediaType:      p.MediaType,
			Caption:        p.Caption,
			CreatedAt:      p.CreatedAt,
			LikesCount:     p.LikesCount,
			CommentsCount:  p.CommentsCount,
		}
		if u, ok := profiles[p.AuthorID]; ok {
			item.AuthorHandle = u.Handle
			item.AuthorPhotoURL = u.PhotoURL
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items
}

// BuildStoryTray groups unexpired stories by author. Expiry is checked on
// every recompute against the passed now; nothing deletes the documents.
// Authors with no live stories are dropped. Stories in a group run oldest
// to newest, groups are ordered by their newest story, most recent first.
func BuildStoryTray(stories map[string]model.Story, profiles map[string]model.User, now time.Time) []TrayGroup {
	byAuthor := make(map[string][]model.Story)
	for _, s := range stories {
		if s.Expired(now) {
			continue
		}
		byAuthor[s.AuthorID] = append(byAuthor[s.AuthorID], s)
	}

	groups := make([]TrayGroup, 0, len(byAuthor))
	for authorID, list := range byAuthor {
		sort.Slice(list, func(i, j int) bool {
			if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
				return list[i].CreatedAt.Before(list[j].CreatedAt)
			}
			return list[i].ID < list[j].ID
		})
		g := TrayGroup{AuthorID: authorID, Stories: list}
		if u, ok := profiles[authorID]; ok {
			g.AuthorHandle = u.Handle
			g.AuthorPhotoURL = u.PhotoURL
		}
		groups = append(groups, g)
	}

	sort.Slice(groups, func(i, j int) bool {
		ti := groups[i].Stories[len(groups[i].Stories)-1].CreatedAt
		tj := groups[j].Stories[len(groups[j].Stories)-1].CreatedAt
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return groups[i].AuthorID < groups[j].AuthorID
	})
	return groups
}
