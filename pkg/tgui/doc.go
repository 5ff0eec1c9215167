// Package tgui holds small helpers for inline keyboards and callback data.
package tgui
