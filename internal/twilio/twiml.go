// Package twilio renders TwiML replies and checks Twilio webhook signatures.
package twilio

import (
	"encoding/xml"
	"net/http"
)

// Response is a TwiML messaging response. Each entry in Messages becomes one
// <Message> element and therefore one SMS.
type Response struct {
	XMLName  xml.Name `xml:"Response"`
	Messages []string `xml:"Message"`
}

// Render encodes a response carrying messages, including the XML header.
func Render(messages ...string) ([]byte, error) {
	out, err := xml.MarshalIndent(Response{Messages: messages}, "", "    ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// Write renders messages to w as text/xml with a 200 status.
func Write(w http.ResponseWriter, messages ...string) error {
	body, err := Render(messages...)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(body)
	return err
}
