/*
Package comm implements the messaging channel between a viewer and the front-end panel that displays its app. Messages are JSON objects sent over a WebSocket, so the front-end only needs an HTTP server.

There are three message types:

  - "url_request" is sent viewer->front-end and has no payload. It asks for the externally visible base URL of the notebook server.
  - "url_response" is sent front-end->viewer and carries the base URL in the "url" field.
  - "show" is sent viewer->front-end once the app server is ready. It carries "uid", "port" and "url" so the front-end can open or refresh the panel for that viewer.

The exchange proceeds as follows:

1. The viewer dials the front-end's WebSocket endpoint.
2. The viewer sends a url_request. The front-end answers with a url_response, which the viewer caches in a BaseURLCache.
3. Each time the viewer's app server becomes ready, the viewer sends a show message. A show for a uid the front-end already knows updates that view in place.

Messages are fire-and-forget; nothing is acknowledged.

Hub is a reference front-end that answers url_request messages and tracks the views it was asked to show.
*/
package comm
