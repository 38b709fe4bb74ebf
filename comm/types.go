package comm

type MessageType string

const (
	// viewer -> front-end
	MessageTypeURLRequest MessageType = "url_request"
	MessageTypeShow       MessageType = "show"

	// front-end -> viewer
	MessageTypeURLResponse MessageType = "url_response"
)

// Message is the single message shape of the protocol. Which fields are set depends on Type.
type Message struct {
	Type MessageType `json:"type"`
	UID  string      `json:"uid,omitempty"`
	Port int         `json:"port,omitempty"`
	URL  string      `json:"url,omitempty"`
}

func URLRequest() Message {
	return Message{Type: MessageTypeURLRequest}
}

func URLResponse(url string) Message {
	return Message{Type: MessageTypeURLResponse, URL: url}
}

func Show(uid string, port int, url string) Message {
	return Message{Type: MessageTypeShow, UID: uid, Port: port, URL: url}
}
