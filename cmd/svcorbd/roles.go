package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"svcorb/internal/middleware"
	"svcorb/internal/security"
)

// registerRoleRoutes wires internal/security/rbac.go's role-management CRUD
// onto the same session-authenticated operator HTTP surface as /api/status
// et al: an admin UI needs somewhere to create roles and assign permissions,
// not just read the users/roles/permissions tables schema.go seeds.
func registerRoleRoutes(router *mux.Router) {
	guard := func(resource, action string, h http.HandlerFunc) http.Handler {
		return middleware.RequireAuth(middleware.RequirePermission(resource, action)(h))
	}

	router.Handle("/api/roles", guard("roles", "read", listRolesHandler)).Methods("GET")
	router.Handle("/api/roles", guard("roles", "write", createRoleHandler)).Methods("POST")
	router.Handle("/api/roles/{id}", guard("roles", "read", getRoleHandler)).Methods("GET")
	router.Handle("/api/roles/{id}", guard("roles", "write", updateRoleHandler)).Methods("PUT")
	router.Handle("/api/roles/{id}", guard("roles", "write", deleteRoleHandler)).Methods("DELETE")
	router.Handle("/api/permissions", guard("roles", "read", listPermissionsHandler)).Methods("GET")
	router.Handle("/api/roles/{id}/permissions", guard("roles", "write", assignPermissionHandler)).Methods("POST")
	router.Handle("/api/roles/{id}/permissions/{permission_id}", guard("roles", "write", removePermissionHandler)).Methods("DELETE")
	router.Handle("/api/users/{id}/roles", guard("roles", "write", assignRoleToUserHandler)).Methods("POST")
	router.Handle("/api/users/{id}/roles/{role_id}", guard("roles", "write", removeRoleFromUserHandler)).Methods("DELETE")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeAPIErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func pathInt(r *http.Request, name string) (int, error) {
	return strconv.Atoi(mux.Vars(r)[name])
}

func listRolesHandler(w http.ResponseWriter, r *http.Request) {
	roles, err := security.GetAllRoles()
	if err != nil {
		writeAPIErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

func createRoleHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIErr(w, http.StatusBadRequest, err)
		return
	}
	role, err := security.CreateRole(body.Name, body.DisplayName, body.Description)
	if err != nil {
		writeAPIErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func getRoleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeAPIErr(w, http.StatusBadRequest, err)
		return
	}
	role, err := security.GetRoleByID(id)
	if err != nil {
		writeAPIErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func updateRoleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeAPIErr(w, http.StatusBadRequest, err)
		return
	}
	var body struct {
		DisplayName string `json:"display_name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIErr(w, http.StatusBadRequest, err)
		return
	}
	if err := security.UpdateRole(id, body.DisplayName, body.Description); err != nil {
		writeAPIErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"id": id})
}

func deleteRoleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeAPIErr(w, http.StatusBadRequest, err)
		return
	}
	if err := security.DeleteRole(id); err != nil {
		writeAPIErr(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func listPermissionsHandler(w http.ResponseWriter, r *http.Request) {
	perms, err := security.GetAllPermissions()
	if err != nil {
		writeAPIErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

func assignPermissionHandler(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathInt(r, "id")
	if err != nil {
		writeAPIErr(w, http.StatusBadRequest, err)
		return
	}
	var body struct {
		PermissionID int `json:"permission_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIErr(w, http.StatusBadRequest, err)
		return
	}
	if err := security.AssignPermissionToRole(roleID, body.PermissionID); err != nil {
		writeAPIErr(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func removePermissionHandler(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathInt(r, "id")
	if err != nil {
		writeAPIErr(w, http.StatusBadRequest, err)
		return
	}
	permID, err := pathInt(r, "permission_id")
	if err != nil {
		writeAPIErr(w, http.StatusBadRequest, err)
		return
	}
	if err := security.RemovePermissionFromRole(roleID, permID); err != nil {
		writeAPIErr(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func assignRoleToUserHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt(r, "id")
	if err != nil {
		writeAPIErr(w, http.StatusBadRequest, err)
		return
	}
	var body struct {
		RoleID    int     `json:"role_id"`
		ExpiresAt *string `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIErr(w, http.StatusBadRequest, err)
		return
	}
	grantedBy, ok := middleware.GetUserFromContext(r)
	var grantedByID *int
	if ok {
		grantedByID = &grantedBy.ID
	}
	if err := security.AssignRoleToUser(userID, body.RoleID, grantedByID, body.ExpiresAt); err != nil {
		writeAPIErr(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func removeRoleFromUserHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt(r, "id")
	if err != nil {
		writeAPIErr(w, http.StatusBadRequest, err)
		return
	}
	roleID, err := pathInt(r, "role_id")
	if err != nil {
		writeAPIErr(w, http.StatusBadRequest, err)
		return
	}
	if err := security.RemoveRoleFromUser(userID, roleID); err != nil {
		writeAPIErr(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
