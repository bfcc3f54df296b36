package cache

import "fmt"

// GalleryFirstPageKey holds the rendered first page of public artifacts.
// Workers delete it whenever a public artifact is created.
func GalleryFirstPageKey() string {
	return "gallery:public:page:1"
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
