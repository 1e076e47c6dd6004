// Correlatus - RTC Channel Analytics and Session Correlation
// Copyright 2026 Correlatus Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/correlatus/correlatus

package ingest

import (
	"fmt"

	"github.com/correlatus/correlatus/internal/models"
)

// kindForCode maps a wire event type onto the normalized kind. Role change
// codes also carry the direction of the switch; everything downstream of
// this table works on kinds, never raw codes.
func kindForCode(code int) (models.EventKind, models.Role, bool) {
	switch code {
	case 101:
		return models.KindChannelCreate, "", true
	case 102:
		return models.KindChannelDestroy, "", true
	case 103:
		return models.KindBroadcasterJoin, "", true
	case 104:
		return models.KindBroadcasterLeave, "", true
	case 105:
		return models.KindAudienceJoin, "", true
	case 106:
		return models.KindAudienceLeave, "", true
	case 107:
		return models.KindCommJoin, "", true
	case 108:
		return models.KindCommLeave, "", true
	case 111:
		return models.KindRoleChange, models.RoleHost, true
	case 112:
		return models.KindRoleChange, models.RoleAudience, true
	}
	return "", "", false
}

// platformNames covers the platform codes the vendor documents.
var platformNames = map[int]string{
	0: "other",
	1: "android",
	2: "ios",
	5: "windows",
	6: "linux",
	7: "web",
	8: "macos",
}

// linuxClientTypes holds the client type codes the vendor ships as Linux SDK
// variants. They refine a platform code we do not recognize.
var linuxClientTypes = map[int]bool{3: true, 8: true, 10: true}

// platformHint renders a platform code as a stable lowercase name. Codes
// outside the documented set keep their raw value visible so new SDKs show
// up in reports instead of collapsing into "other".
func platformHint(platform, clientType int) string {
	if name, ok := platformNames[platform]; ok {
		return name
	}
	if linuxClientTypes[clientType] {
		return "linux"
	}
	return fmt.Sprintf("platform-%d", platform)
}

// productNames covers the product lines that deliver channel notifications.
var productNames = map[int]string{
	1: "rtc",
	3: "cloud_recording",
	4: "media_pull",
	5: "media_push",
}

// productHint renders a product id as a stable lowercase name, keeping
// unknown ids visible as product-N.
func productHint(productID int) string {
	if name, ok := productNames[productID]; ok {
		return name
	}
	return fmt.Sprintf("product-%d", productID)
}
