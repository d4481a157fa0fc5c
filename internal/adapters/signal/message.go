package signal

// message is the JSON envelope exchanged with the rendezvous service.
type message struct {
	Type          string `json:"type"`
	PeerID        string `json:"peer_id,omitempty"`
	From          string `json:"from,omitempty"`
	To            string `json:"to,omitempty"`
	CallID        string `json:"call_id,omitempty"`
	SDP           string `json:"sdp,omitempty"`
	Candidate     string `json:"candidate,omitempty"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
	Error         string `json:"error,omitempty"`
	Code          int    `json:"code,omitempty"`
}

const (
	msgRegister        = "register"
	msgRegistered      = "registered"
	msgCall            = "call" // relayed SDP offer
	msgAnswer          = "answer"
	msgCandidate       = "candidate"
	msgBye             = "bye"
	msgPeerUnavailable = "peer_unavailable"
	msgError           = "error"
)

// Server error codes carried by msgError.
const (
	codeServerFault = 500
	codeBadRequest  = 400
)
