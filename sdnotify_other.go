//go:build !linux

package main

func sdNotifyReady() (bool, error) { return false, nil }

func sdNotifyStopping() (bool, error) { return false, nil }
