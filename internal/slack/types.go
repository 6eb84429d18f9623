package slack

import "encoding/json"

// apiResponse is the envelope shared by every Slack Web API response.
type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Attachment is an interactive message attachment. The CallbackID carries the
// routing token for button presses raised against it.
type Attachment struct {
	Text       string             `json:"text,omitempty"`
	Fallback   string             `json:"fallback,omitempty"`
	CallbackID string             `json:"callback_id,omitempty"`
	Color      string             `json:"color,omitempty"`
	Actions    []AttachmentAction `json:"actions,omitempty"`
}

// AttachmentAction is a single button inside an attachment.
type AttachmentAction struct {
	Name  string `json:"name"`
	Text  string `json:"text"`
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

// Button builds a button action.
func Button(name, text, value string) AttachmentAction {
	return AttachmentAction{Name: name, Text: text, Type: "button", Value: value}
}

// oauthResponse is the response from oauth.access.
type oauthResponse struct {
	apiResponse
	TeamID string `json:"team_id"`
	Bot    struct {
		BotUserID      string `json:"bot_user_id"`
		BotAccessToken string `json:"bot_access_token"`
	} `json:"bot"`
}

// Install is the result of a completed OAuth exchange.
type Install struct {
	TeamID    string
	BotUserID string
	BotToken  string
}

// rtmStartResponse is the response from rtm.start.
type rtmStartResponse struct {
	apiResponse
	URL string `json:"url"`
}

// channelInfoResponse is the response from channels.info.
type channelInfoResponse struct {
	apiResponse
	Channel struct {
		ID      string   `json:"id"`
		Members []string `json:"members"`
	} `json:"channel"`
}

// postMessageResponse is the response from chat.postMessage.
type postMessageResponse struct {
	apiResponse
	TS      string `json:"ts"`
	Channel string `json:"channel"`
}

// Event is one JSON-typed event delivered over the realtime connection.
type Event struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	User    string          `json:"user"`
	Text    string          `json:"text"`
	Error   *EventError     `json:"error,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// EventError is the error envelope the realtime stream attaches to a
// rejected frame.
type EventError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// InteractionPayload is the serialized interactive-button payload Slack posts
// to the action webhook.
type InteractionPayload struct {
	CallbackID string `json:"callback_id"`
	Team       struct {
		ID string `json:"id"`
	} `json:"team"`
	Channel struct {
		ID string `json:"id"`
	} `json:"channel"`
	User struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
	ResponseURL string `json:"response_url"`
	Actions     []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"actions"`
}
