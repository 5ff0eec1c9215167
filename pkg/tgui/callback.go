package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats callback data as "plugin:action:payload".
func Data(plugin, action, payload string) string {
	plugin = strings.TrimSpace(plugin)
	action = strings.TrimSpace(action)
	if payload == "" {
		return plugin + ":" + action
	}
	return plugin + ":" + action + ":" + payload
}

// CheckedData is Data that refuses results Telegram would reject.
func CheckedData(plugin, action, payload string) (string, error) {
	d := Data(plugin, action, payload)
	if len(d) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return d, nil
}

// SplitPayload splits a payload of the form "a|b|c".
func SplitPayload(payload string) []string {
	if payload == "" {
		return nil
	}
	return strings.Split(payload, "|")
}

// JoinPayload is the inverse of SplitPayload.
func JoinPayload(parts ...string) string { return strings.Join(parts, "|") }
