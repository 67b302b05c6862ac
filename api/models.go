package api

import (
	"net/url"

	"github.com/ssbc/ssb-viewer/api/validator"
)

// query holds the options a request may override.
type query struct {
	Base      string `query:"base" validate:"omitempty,urlprefix"`
	MsgBase   string `query:"msg_base" validate:"omitempty,urlprefix"`
	FeedBase  string `query:"feed_base" validate:"omitempty,urlprefix"`
	BlobBase  string `query:"blob_base" validate:"omitempty,urlprefix"`
	ImgBase   string `query:"img_base" validate:"omitempty,urlprefix"`
	EmojiBase string `query:"emoji_base" validate:"omitempty,urlprefix"`
	NoRoot    bool   `query:"noroot"`
	ShowAll   bool   `query:"showAll"`
}

func parseQuery(v url.Values) query {
	return query{
		Base:      v.Get("base"),
		MsgBase:   v.Get("msg_base"),
		FeedBase:  v.Get("feed_base"),
		BlobBase:  v.Get("blob_base"),
		ImgBase:   v.Get("img_base"),
		EmojiBase: v.Get("emoji_base"),
		NoRoot:    v.Has("noroot"),
		ShowAll:   v.Has("showAll"),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type validationResponse struct {
	Errors []validator.ValidationError `json:"errors"`
}
